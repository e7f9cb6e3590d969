package app

import (
	"github.com/vk/policylab/internal/registry"
	"github.com/vk/policylab/modules/feedbackperts"
	"github.com/vk/policylab/modules/plantperts"
)

// coreModules is the definitive list of study modules compiled into the
// policylab binary.
var coreModules = []registry.Module{
	&plantperts.Module{},
	&feedbackperts.Module{},
}

package common

// PackageName is used as the metrics namespace and the default service tag.
const PackageName = "harbormaster"

// Version is set at build time through the linker.
var Version = "dev"

package version

// Version is the current version of pgslice.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.7.0"

// Name is the application name.
const Name = "pgslice"

// Description is a short description of the application.
const Description = "Postgres partitioning as easy as pie"

package version

// Version is the current version of ledctl.
// Use semantic versioning: MAJOR.MINOR.PATCH
const Version = "1.0.0"

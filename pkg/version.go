package pkg

// Version is set at build time with -ldflags "-X github.com/gematik/zero-gate/pkg.Version=..."
var Version = "0.1.0-dev"

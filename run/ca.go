package run

import (
	// CA roots for wss:// endpoints from containers without system
	// certificates. Every binary that dials out imports this package.
	_ "golang.org/x/crypto/x509roots/fallback"
)

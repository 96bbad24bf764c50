package config

import (
	"github.com/adrg/xdg"
)

const (
	maxConcurrentDownloads = 3
	disableDHT             = false
	highPriorityCount      = 5
	lookAheadCount         = 15
)

var (
	downloadDir = xdg.UserDirs.Download
)

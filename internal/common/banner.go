package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner displays the harness banner
func PrintBanner(version string) {
	banner.Print("MouseAdmin E2E", version)
}

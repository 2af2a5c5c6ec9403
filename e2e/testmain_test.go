//go:build e2e

package e2e

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
)

// fakeMediaFlag is passed by testutil.NewBrowserClient to every Chrome the
// suite launches. A developer's own browser never carries it.
const fakeMediaFlag = "use-fake-device-for-media-stream"

func TestMain(m *testing.M) {
	code := m.Run()
	reapFakeMediaBrowsers()
	os.Exit(code)
}

// reapFakeMediaBrowsers kills the fake-media Chrome instances that outlived
// a test, e.g. after a panic skipped the BrowserClient cleanup. Finding
// nothing is the normal outcome, so errors are dropped.
func reapFakeMediaBrowsers() {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin", "linux":
		cmd = exec.Command("pkill", "-f", "--", "--"+fakeMediaFlag)
	case "windows":
		cmd = exec.Command("powershell", "-NoProfile", "-Command",
			"Get-CimInstance Win32_Process -Filter \"CommandLine like '%"+fakeMediaFlag+"%'\" | "+
				"Invoke-CimMethod -MethodName Terminate")
	default:
		return
	}
	_ = cmd.Run()
}

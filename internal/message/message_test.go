package message

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetNoColor(true)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetNoColor(false)
		SetQuiet(false)
		SetSilent(false)
	})
	return &buf
}

func TestPrefixes(t *testing.T) {
	buf := capture(t)

	Info("loading %d accounts", 3)
	Success("done")
	Warning("careful")
	Error("broken")
	Critical("on fire")

	assert.Equal(t,
		"[*] loading 3 accounts\n[+] done\n[!] careful\n[-] broken\n[!!] on fire\n",
		buf.String())
}

func TestQuietSuppressesStatusOnly(t *testing.T) {
	buf := capture(t)
	SetQuiet(true)

	Info("hidden")
	Success("hidden")
	Warning("shown")
	Error("shown")

	assert.Equal(t, "[!] shown\n[-] shown\n", buf.String())
}

func TestSilentSuppressesAllButCritical(t *testing.T) {
	buf := capture(t)
	SetSilent(true)

	Info("hidden")
	Warning("hidden")
	Error("hidden")
	Critical("shown")

	assert.Equal(t, "[!!] shown\n", buf.String())
}

func TestEmphasizeRespectsNoColor(t *testing.T) {
	capture(t)
	assert.Equal(t, "plain", Emphasize("plain"))
}

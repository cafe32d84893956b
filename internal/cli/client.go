package cli

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"os"
	"time"

	"github.com/clawinfra/evosync/internal/api"
)

// Defaults for reaching the daemon.
const (
	DefaultAddr = "http://localhost:8421"
	EnvAddr     = "EVOSYNC_ADDR"
	EnvToken    = "EVOSYNC_API_TOKEN"
)

// clientOpts are the flags every daemon-facing command accepts.
type clientOpts struct {
	addr    string
	token   string
	json    bool
	timeout time.Duration
}

func addClientFlags(fs *flag.FlagSet) *clientOpts {
	o := &clientOpts{}
	addr := os.Getenv(EnvAddr)
	if addr == "" {
		addr = DefaultAddr
	}
	fs.StringVar(&o.addr, "addr", addr, "Daemon API address")
	fs.StringVar(&o.token, "token", os.Getenv(EnvToken), "API bearer token")
	fs.BoolVar(&o.json, "json", false, "Print raw JSON")
	fs.DurationVar(&o.timeout, "timeout", 60*time.Second, "Request timeout")
	return o
}

func (o *clientOpts) client() *api.Client {
	return api.NewClient(o.addr, o.token, o.timeout)
}

// printRaw pretty-prints a JSON body.
func printRaw(out io.Writer, raw []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		out.Write(raw)
		return
	}
	buf.WriteByte('\n')
	out.Write(buf.Bytes())
}

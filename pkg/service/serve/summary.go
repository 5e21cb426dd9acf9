package serve

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"go.keploy.io/httpengine/pkg/models"
	"golang.org/x/term"
)

// printSummary writes the effective listener settings as a table.
func (s *serve) printSummary(w io.Writer, addr net.Addr) {
	tlsCfg := s.config.Server.TLS

	security := "off (cleartext, h2c by preface)"
	protocols := []string{models.ALPNHTTP2, models.ALPNHTTP11}
	if tlsCfg.Enabled {
		switch {
		case tlsCfg.CertFile != "":
			security = tlsCfg.CertFile
		default:
			security = "self-signed"
		}
		if tlsCfg.DisableHTTP2 {
			protocols = []string{models.ALPNHTTP11}
		}
	}

	table := tablewriter.NewWriter(w)
	table.Append([]string{"address", addr.String()})
	table.Append([]string{"tls", security})
	table.Append([]string{"protocols", strings.Join(protocols, ", ")})
	table.Append([]string{"http1 max header bytes", fmt.Sprint(s.config.HTTP1.MaxHeaderBytes)})
	table.Append([]string{"http2 max streams", fmt.Sprint(s.config.HTTP2.MaxConcurrentStreams)})
	table.Append([]string{"access log", fmt.Sprint(s.config.Server.AccessLog)})
	table.Render()
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// This file implements the serve command: boots the verification HTTP
// surface (spec §6) over a ledger-backed workflow.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/Th0rgal/explain.md-sub002/internal/httpapi"
	"github.com/Th0rgal/explain.md-sub002/internal/logging"
	"github.com/Th0rgal/explain.md-sub002/internal/verification"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the verification HTTP surface",
	Long: `Boots the verification HTTP API (spec §6: GET /health, GET/POST
/api/verification/jobs, GET /api/verification/jobs/{id},
POST /api/verification/jobs/{id}/run, POST /api/verification/run-next)
over the ledger at --ledger, persisting after every mutating request.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8089", "Listen address")
	serveCmd.Flags().StringVar(&verifyLedgerPath, "ledger", "", "Verification ledger path (default: <workspace>/.explainmd/verification-ledger.json)")
}

// persistingHandler wraps the httpapi handler and rewrites the ledger
// after every POST request, since httpapi.Server only holds a
// *verification.Workflow. Re-registering a full router here would
// duplicate httpapi; instead serve persists on a ticker-free, synchronous
// best-effort basis via a light wrapper handler.
type persistingHandler struct {
	inner http.Handler
	w     *verification.Workflow
	path  string
}

func (h *persistingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.inner.ServeHTTP(rw, r)
	if r.Method == http.MethodPost {
		if err := persistWorkflow(h.w, h.path); err != nil {
			logging.Get(logging.CategoryHTTP).Error("serve: failed to persist ledger: %v", err)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	path := resolveLedgerPath()
	w, err := openOrCreateWorkflow(path)
	if err != nil {
		return err
	}

	server := httpapi.NewServer(w)
	handler := &persistingHandler{inner: server, w: w, path: path}

	logging.Boot("serve: listening on %s (ledger=%s)", serveAddr, path)
	fmt.Fprintf(os.Stderr, "explainmd serve: listening on %s\n", serveAddr)
	return http.ListenAndServe(serveAddr, handler)
}

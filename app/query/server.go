package query

import (
	"net/http"

	"github.com/canopy-network/balanceblocks/app/query/controller"
	"github.com/canopy-network/balanceblocks/app/query/types"
	"github.com/canopy-network/balanceblocks/pkg/utils"
	"go.uber.org/zap"
)

// NewServer creates the HTTP server of the query API and attaches it to app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3001")

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}

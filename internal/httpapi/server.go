// Package httpapi exposes the vault registry over REST. Callers are
// identified by the user id the auth middleware places on the request
// context; amounts travel as decimal strings of base units.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/ledger"
	"github.com/R3E-Network/xvault/internal/logging"
	"github.com/R3E-Network/xvault/internal/metrics"
	"github.com/R3E-Network/xvault/internal/middleware"
	"github.com/R3E-Network/xvault/internal/storage"
	"github.com/R3E-Network/xvault/internal/vault"
)

// AdminRole may provision ledger state and read checkpoints.
const AdminRole = "admin"

// Options wires a Server. Registry is required; the rest enable optional
// routes.
type Options struct {
	Registry *vault.Registry

	// Directory and Bank back the admin ledger routes and let POST /vaults
	// provision missing modules.
	Directory *ledger.Directory
	Bank      *ledger.Token

	Events      *events.RingBuffer
	Metrics     *metrics.Collector
	Archive     storage.EventStore
	Checkpoints storage.CheckpointStore
	Logger      *logging.Logger
	Version     string
}

// Server serves the vault API.
type Server struct {
	registry    *vault.Registry
	directory   *ledger.Directory
	bank        *ledger.Token
	events      *events.RingBuffer
	metrics     *metrics.Collector
	archive     storage.EventStore
	checkpoints storage.CheckpointStore
	log         *logging.Logger
	version     string
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Default("httpapi")
	}
	return &Server{
		registry:    opts.Registry,
		directory:   opts.Directory,
		bank:        opts.Bank,
		events:      opts.Events,
		metrics:     opts.Metrics,
		archive:     opts.Archive,
		checkpoints: opts.Checkpoints,
		log:         opts.Logger,
		version:     opts.Version,
	}
}

// Router builds the route table. Middleware passed here runs after route
// matching, so it can see route templates.
func (s *Server) Router(mw ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	r.Use(mw...)
	r.NotFoundHandler = http.HandlerFunc(s.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	if s.events != nil {
		r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	}

	r.HandleFunc("/vaults", s.handleCreateVault).Methods(http.MethodPost)
	r.HandleFunc("/vaults", s.handleListVaults).Methods(http.MethodGet)

	r.HandleFunc("/vaults/{id:[0-9]+}", s.handleGetVault).Methods(http.MethodGet)
	v := r.PathPrefix("/vaults/{id:[0-9]+}").Subrouter()
	v.HandleFunc("/eligible/{item}", s.handleIsEligible).Methods(http.MethodGet)
	v.HandleFunc("/mint", s.handleMint).Methods(http.MethodPost)
	v.HandleFunc("/redeem", s.handleRedeem).Methods(http.MethodPost)
	v.HandleFunc("/mint-and-redeem", s.handleMintAndRedeem).Methods(http.MethodPost)
	v.HandleFunc("/deposit", s.handleDeposit).Methods(http.MethodPost)
	v.HandleFunc("/requests", s.handleRequestMint).Methods(http.MethodPost)
	v.HandleFunc("/requests", s.handleListRequests).Methods(http.MethodGet)
	v.HandleFunc("/requests/approve", s.handleApproveRequests).Methods(http.MethodPost)
	v.HandleFunc("/requests/revoke", s.handleRevokeRequests).Methods(http.MethodPost)
	v.HandleFunc("/fees/{kind:mint|burn|dual}", s.handleSetFees).Methods(http.MethodPut)
	v.HandleFunc("/bounty", s.handleSetBounty).Methods(http.MethodPut)
	v.HandleFunc("/eligibility", s.handleSetEligible).Methods(http.MethodPut)
	v.HandleFunc("/negate", s.handleSetNegate).Methods(http.MethodPut)
	v.HandleFunc("/flip", s.handleSetFlip).Methods(http.MethodPut)
	v.HandleFunc("/manager", s.handleSetManager).Methods(http.MethodPut)
	v.HandleFunc("/finalize", s.handleFinalize).Methods(http.MethodPost)
	if s.archive != nil {
		v.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	}

	if s.directory != nil && s.bank != nil {
		r.HandleFunc("/ledger/{account}", s.handleBalances).Methods(http.MethodGet)

		admin := r.PathPrefix("/admin").Subrouter()
		admin.Use(middleware.RequireRole(AdminRole))
		admin.HandleFunc("/ledger/items", s.handleIssueItems).Methods(http.MethodPost)
		admin.HandleFunc("/ledger/mint", s.handleMintFunds).Methods(http.MethodPost)
		if s.checkpoints != nil {
			admin.HandleFunc("/checkpoints", s.handleListCheckpoints).Methods(http.MethodGet)
		}
	}
	return r
}

// This is a http type of reporter.
// It fetches transfer rows and merkle proofs from internal storage
// and publishes them on the http routes.

package reporter

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/obridge/maker-go/accumulator"
	"github.com/obridge/maker-go/matcher"
)

const (
	ROUTE_HEALTH    = "/health"
	ROUTE_TRANSFERS = "/transfers"
	ROUTE_PROOF     = "/proof"
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	store *matcher.Store
	acc   *accumulator.Accumulator
}

func NewHttpReporter(serverIP string, serverPort string, store *matcher.Store, acc *accumulator.Accumulator) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		store:      store,
		acc:        acc,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HEALTH, Health)
	router.GET(ROUTE_TRANSFERS, h.Transfers)
	router.GET(ROUTE_PROOF, h.Proof)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Transfers lists stored transfer rows, filterable by address,
// direction (user|maker) and status, paged newest first.
func (h *HttpReporter) Transfers(c *gin.Context) {
	filter := matcher.TransferFilter{
		Address: c.Query("address"),
	}

	switch strings.ToLower(c.Query("direction")) {
	case "":
	case "user":
		side := matcher.SideUser
		filter.Side = &side
	case "maker":
		side := matcher.SideMaker
		filter.Side = &side
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be user or maker"})
		return
	}

	if raw := c.Query("status"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be an integer"})
			return
		}
		status := matcher.Status(n)
		filter.Status = &status
	}

	filter.Page, _ = strconv.Atoi(c.Query("page"))
	filter.Size, _ = strconv.Atoi(c.Query("size"))

	txs, err := h.store.ListTransfers(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txs})
}

// Proof serves the merkle membership proof for a challengeable row.
// A row that is not (or not yet) in its tree is an expected absence
// and answers 404, never a server error.
func (h *HttpReporter) Proof(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Query("chain_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chain_id must be provided"})
		return
	}

	var kind accumulator.Kind
	switch strings.ToLower(c.Query("kind")) {
	case "user":
		kind = accumulator.KindUserTx
	case "maker":
		kind = accumulator.KindMakerTx
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be user or maker"})
		return
	}

	hash := c.Query("hash")
	if hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hash must be provided"})
		return
	}

	tx, err := h.store.GetTransactionByHash(chainID, hash)
	if err != nil {
		if err == matcher.ErrTxNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "non-existent"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	leaf := tx.Leaf().Hash()
	proof, root, ok := h.acc.Proof(chainID, kind, leaf)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "non-existent"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"root":  root.Hex(),
		"leaf":  leaf.Hex(),
		"proof": proof,
	})
}

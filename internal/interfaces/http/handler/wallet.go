package handler

import (
	walletapp "github.com/billflow/backend/internal/application/wallet"
	"github.com/gin-gonic/gin"
)

// WalletHandler reads wallets and credits them
type WalletHandler struct {
	BaseHandler
	wallets *walletapp.Service
}

// NewWalletHandler creates a WalletHandler
func NewWalletHandler(wallets *walletapp.Service) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// RegisterRoutes mounts /wallets
func (h *WalletHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/wallets/:user_id")
	g.GET("", h.GetWallet)
	g.POST("/topup", h.TopUp)
	g.GET("/transactions", h.ListTransactions)
}

// TopUpRequest is the body of a top-up
type TopUpRequest struct {
	Amount    string `json:"amount" binding:"required"`
	Reference string `json:"reference" binding:"required"`
}

// GetWallet returns a user's wallet
// @ID           getWallet
// @Summary      Get a wallet
// @Tags         wallets
// @Produce      json
// @Param        user_id  path      string  true  "User ID"
// @Success      200      {object}  APIResponse[walletapp.WalletResponse]
// @Failure      404      {object}  ErrorResponse
// @Router       /wallets/{user_id} [get]
func (h *WalletHandler) GetWallet(c *gin.Context) {
	w, err := h.wallets.GetWallet(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, w)
}

// TopUp credits a wallet, opening it when needed. Replaying a reference answers 200
// with duplicate=true.
// @ID           topUpWallet
// @Summary      Top up a wallet
// @Tags         wallets
// @Accept       json
// @Produce      json
// @Param        user_id  path      string        true  "User ID"
// @Param        request  body      TopUpRequest  true  "Top-up"
// @Success      201      {object}  APIResponse[walletapp.TopUpResult]
// @Success      200      {object}  APIResponse[walletapp.TopUpResult]
// @Failure      400      {object}  ErrorResponse
// @Router       /wallets/{user_id}/topup [post]
func (h *WalletHandler) TopUp(c *gin.Context) {
	var req TopUpRequest
	if !h.BindJSON(c, &req) {
		return
	}
	result, err := h.wallets.TopUp(c.Request.Context(), walletapp.TopUpInput{
		UserID:    c.Param("user_id"),
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Duplicate {
		h.Success(c, result)
		return
	}
	h.Created(c, result)
}

// ListTransactions pages through a user's ledger, newest first
// @ID           listWalletTransactions
// @Summary      List wallet transactions
// @Tags         wallets
// @Produce      json
// @Param        user_id    path      string  true   "User ID"
// @Param        page       query     int     false  "Page number"  default(1)
// @Param        page_size  query     int     false  "Page size"    default(20)
// @Success      200        {object}  APIResponse[[]walletapp.TransactionResponse]
// @Failure      400        {object}  ErrorResponse
// @Router       /wallets/{user_id}/transactions [get]
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	filter, ok := h.ListFilter(c)
	if !ok {
		return
	}
	page, err := h.wallets.ListTransactions(c.Request.Context(), c.Param("user_id"), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	SuccessPage(c, page)
}

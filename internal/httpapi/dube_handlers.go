package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aidcore.org/internal/auth"
	"aidcore.org/internal/dube"
)

type createAccountRequest struct {
	OwnerID       string `json:"owner_id"`
	Merchant      string `json:"merchant"`
	Currency      string `json:"currency"`
	InitialAmount int64  `json:"initial_amount"`
}

type transferRequest struct {
	FromID         string `json:"from_id"`
	ToID           string `json:"to_id"`
	Currency       string `json:"currency"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type listTransactionsResponse struct {
	Items     []dube.Transaction `json:"items"`
	NextAfter uint64             `json:"next_after"`
	AsOf      time.Time          `json:"as_of"`
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAccount(w, r)
	case http.MethodGet:
		a.listAccounts(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/dube/accounts/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/balance") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/balance"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "account not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getBalance(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getAccount(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleTransfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.transfer(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTransactions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	if !a.require(w, r, auth.Requirement{
		Module: auth.ModuleDube,
		Roles:  []auth.Role{auth.RoleDubeAdmin},
	}) {
		return
	}
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if strings.TrimSpace(req.Currency) == "" {
		writeError(w, r, http.StatusBadRequest, "currency is required")
		return
	}
	if len(req.Currency) > 8 {
		writeError(w, r, http.StatusBadRequest, "currency code too long")
		return
	}
	if req.InitialAmount < 0 {
		writeError(w, r, http.StatusBadRequest, "initial_amount must be >= 0")
		return
	}

	acc, err := a.dube.CreateAccount(r.Context(), strings.TrimSpace(req.OwnerID), strings.TrimSpace(req.Merchant), dube.Money{
		Currency: strings.ToUpper(req.Currency),
		Amount:   req.InitialAmount,
	})
	if err != nil {
		handleDubeError(w, r, err)
		return
	}

	a.audit(r.Context(), "dube.account.create", map[string]any{
		"account_id": acc.ID,
		"merchant":   acc.Merchant,
	})
	w.Header().Set("Location", "/v1/dube/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	if !a.require(w, r, auth.Requirement{
		Module: auth.ModuleDube,
		Roles:  []auth.Role{auth.RoleDubeViewer},
	}) {
		return
	}
	accounts, err := a.dube.ListAccounts(r.Context())
	if err != nil {
		handleDubeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": accounts})
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	if !a.require(w, r, auth.Requirement{
		Module:   auth.ModuleDube,
		Roles:    []auth.Role{auth.RoleDubeAgent},
		Resource: auth.AssignmentGuard(auth.ModuleDube, id),
	}) {
		return
	}
	acc, err := a.dube.GetAccount(r.Context(), id)
	if err != nil {
		handleDubeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request, id string) {
	if !a.require(w, r, auth.Requirement{
		Module:   auth.ModuleDube,
		Roles:    []auth.Role{auth.RoleDubeAgent},
		Resource: auth.AssignmentGuard(auth.ModuleDube, id),
	}) {
		return
	}
	currency := r.URL.Query().Get("currency")
	if strings.TrimSpace(currency) == "" {
		writeError(w, r, http.StatusBadRequest, "currency query parameter is required")
		return
	}
	mon, err := a.dube.GetBalance(r.Context(), id, strings.ToUpper(currency))
	if err != nil {
		handleDubeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mon)
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	fromID := strings.TrimSpace(req.FromID)
	toID := strings.TrimSpace(req.ToID)
	if fromID == "" || toID == "" {
		writeError(w, r, http.StatusBadRequest, "from_id and to_id are required")
		return
	}
	if len(fromID) > 64 || len(toID) > 64 {
		writeError(w, r, http.StatusBadRequest, "account identifiers must be <=64 characters")
		return
	}

	// Agents may only move funds out of accounts they are assigned to.
	if !a.require(w, r, auth.Requirement{
		Module:   auth.ModuleDube,
		Roles:    []auth.Role{auth.RoleDubeAgent},
		Resource: auth.AssignmentGuard(auth.ModuleDube, fromID),
	}) {
		return
	}

	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if req.IdempotencyKey != "" {
		bodyKey := strings.TrimSpace(req.IdempotencyKey)
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			writeError(w, r, http.StatusBadRequest, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		writeError(w, r, http.StatusBadRequest, "currency is required")
		return
	}
	if len(currency) > 8 {
		writeError(w, r, http.StatusBadRequest, "currency code too long")
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be > 0")
		return
	}

	tx, err := a.dube.Transfer(r.Context(), fromID, toID, dube.Money{
		Currency: currency,
		Amount:   req.Amount,
	}, idem)
	if err != nil {
		handleDubeError(w, r, err)
		return
	}

	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}

	a.audit(r.Context(), "dube.transfer.execute", map[string]any{
		"transaction_id": tx.ID,
		"from_account":   fromID,
		"to_account":     toID,
		"currency":       currency,
		"amount":         strconv.FormatInt(req.Amount, 10),
	})
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	if !a.require(w, r, auth.Requirement{
		Module: auth.ModuleDube,
		Roles:  []auth.Role{auth.RoleDubeViewer},
	}) {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	items, next, err := a.dube.ListTransactions(r.Context(), limit, after)
	if err != nil {
		handleDubeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listTransactionsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func handleDubeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dube.ErrInvalidAmount), errors.Is(err, dube.ErrInvalidCurrency), errors.Is(err, dube.ErrInvalidMerchant):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, dube.ErrInsufficientFunds):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, dube.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

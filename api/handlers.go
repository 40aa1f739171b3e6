/*
handlers.go - HTTP API handlers for the group ledger

PURPOSE:
  Exposes group membership, shared expenses, balances and settlements via
  REST. Handles HTTP request/response and JSON, and delegates to
  groups.Service and membership.Directory.

ENDPOINTS:
  Groups:
    POST   /api/groups                               Create group (requester becomes admin)
    GET    /api/groups                               Groups of the requester
    POST   /api/groups/join                          Join by invite code
    GET    /api/groups/{groupID}                     Group details
    GET    /api/groups/{groupID}/members             List members
    PUT    /api/groups/{groupID}/members/{userID}/role  Change role (admin)
    DELETE /api/groups/{groupID}/members/{userID}    Remove member (admin)
    POST   /api/groups/{groupID}/leave               Leave group
    POST   /api/groups/{groupID}/invite-code         Regenerate invite code (admin)

  Expenses:
    POST   /api/groups/{groupID}/expenses            Create shared expense
    GET    /api/groups/{groupID}/expenses            List, newest date first
    GET    /api/expenses/{expenseID}                 One expense with splits

  Balances & settlements:
    GET    /api/groups/{groupID}/balances            Group balances
    POST   /api/groups/{groupID}/settlements/preview Preview (admin)
    POST   /api/groups/{groupID}/settlements/execute Execute (admin, confirmed)
    POST   /api/groups/{groupID}/split-equally       Execute, short response (admin)
    GET    /api/groups/{groupID}/settlements         History, newest first

REQUESTER:
  Every /api route needs an X-User-ID header naming the requesting user.
  Authentication happens upstream; the header is trusted.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing X-User-ID
  - 403: Requester is not a member / not an admin
  - 404: Resource not found
  - 409: Conflict (already a member)
  - 500: Internal errors (including ledger invariant violations)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/group-ledger/groups"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/membership"
	"github.com/warp/group-ledger/split"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *groups.Service
	Directory *membership.Directory
	Logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a handler over the given service and directory.
func NewHandler(svc *groups.Service, dir *membership.Directory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Directory: dir, Logger: logger, now: time.Now}
}

func groupID(r *http.Request) ledger.GroupID {
	return ledger.GroupID(chi.URLParam(r, "groupID"))
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decode(w, r, &req) {
		return
	}
	g, err := h.Directory.CreateGroup(r.Context(), requester(r), req.Name)
	if err != nil {
		h.writeDomainError(w, r, "Failed to create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupDTO(g))
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	list, err := h.Directory.GroupsFor(r.Context(), requester(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to list groups", err)
		return
	}
	dtos := make([]GroupDTO, len(list))
	for i, g := range list {
		dtos[i] = toGroupDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	var req JoinGroupRequest
	if !decode(w, r, &req) {
		return
	}
	g, err := h.Directory.Join(r.Context(), requester(r), req.InviteCode)
	if err != nil {
		h.writeDomainError(w, r, "Failed to join group", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	if !h.requireMember(w, r) {
		return
	}
	g, err := h.Directory.Group(r.Context(), groupID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get group", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	if !h.requireMember(w, r) {
		return
	}
	members, err := h.Directory.Members(r.Context(), groupID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to list members", err)
		return
	}
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoleRequest
	if !decode(w, r, &req) {
		return
	}
	role := membership.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	target := ledger.UserID(chi.URLParam(r, "userID"))

	m, err := h.Directory.UpdateRole(r.Context(), requester(r), groupID(r), target, role)
	if err != nil {
		h.writeDomainError(w, r, "Failed to update role", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	target := ledger.UserID(chi.URLParam(r, "userID"))
	if err := h.Directory.RemoveMember(r.Context(), requester(r), groupID(r), target); err != nil {
		h.writeDomainError(w, r, "Failed to remove member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Directory.Leave(r.Context(), requester(r), groupID(r)); err != nil {
		h.writeDomainError(w, r, "Failed to leave group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RegenerateInviteCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.Directory.RegenerateInviteCode(r.Context(), requester(r), groupID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to regenerate invite code", err)
		return
	}
	writeJSON(w, http.StatusOK, InviteCodeResponse{InviteCode: code})
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := h.parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use RFC3339 or YYYY-MM-DD)", err)
		return
	}

	participants := make([]split.Participant, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = split.Participant{UserID: ledger.UserID(p.UserID), Amount: p.Amount}
	}

	exp, err := h.Service.CreateSharedExpense(r.Context(), requester(r), groupID(r), groups.ExpenseInput{
		PayerID:      ledger.UserID(req.PayerID),
		Amount:       req.Amount,
		Description:  req.Description,
		Date:         date,
		SplitType:    req.SplitType,
		Participants: participants,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(exp))
}

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListSharedExpenses(r.Context(), requester(r), groupID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to list expenses", err)
		return
	}
	dtos := make([]ExpenseDTO, len(list))
	for i, e := range list {
		dtos[i] = toExpenseDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	id := ledger.ExpenseID(chi.URLParam(r, "expenseID"))
	exp, err := h.Service.GetSharedExpense(r.Context(), requester(r), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(exp))
}

// parseDate accepts RFC3339 or a calendar date; empty means now.
func (h *Handler) parseDate(s string) (time.Time, error) {
	if s == "" {
		return h.now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

// =============================================================================
// BALANCE & SETTLEMENT HANDLERS
// =============================================================================

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.GetGroupBalances(r.Context(), requester(r), groupID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(rows))
}

func (h *Handler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	plan, err := h.Service.PreviewSettlement(r.Context(), requester(r), groupID(r), userIDs(req.Participants))
	if err != nil {
		h.writeDomainError(w, r, "Failed to preview settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewResponse(plan))
}

func (h *Handler) ExecuteSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Service.ExecuteSettlement(r.Context(), requester(r), groupID(r), userIDs(req.Participants), req.Confirmed)
	if err != nil {
		h.writeDomainError(w, r, "Failed to execute settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toExecuteResponse(res))
}

func (h *Handler) SplitEqually(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Service.SplitEqually(r.Context(), requester(r), groupID(r), userIDs(req.Participants))
	if err != nil {
		h.writeDomainError(w, r, "Failed to split equally", err)
		return
	}
	writeJSON(w, http.StatusOK, SplitEquallyResponse{
		Settlements: toSettlementDTOs(res.Settlements),
		EqualShare:  moneyString(res.EqualShare),
	})
}

func (h *Handler) SettlementHistory(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.GetSettlementHistory(r.Context(), requester(r), groupID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get settlement history", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTOs(list))
}

func userIDs(ids []string) []ledger.UserID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]ledger.UserID, len(ids))
	for i, id := range ids {
		out[i] = ledger.UserID(id)
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request) bool {
	ok, err := h.Directory.IsMember(r.Context(), groupID(r), requester(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to check membership", err)
		return false
	}
	if !ok {
		h.writeDomainError(w, r, "Forbidden", ledger.ErrNotMember)
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	case ledger.IsForbidden(err):
		return http.StatusForbidden
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, "error", err, "path", r.URL.Path)
		writeError(w, status, message, errors.New("internal error"))
		return
	}
	writeError(w, status, message, err)
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  ledger's domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are JSON strings with two decimals ("33.34"). Request amounts may
  be strings or numbers; both decode through shopspring/decimal.

TIMES:
  RFC3339 in UTC. Expense dates accept RFC3339 or YYYY-MM-DD.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/membership"
	"github.com/warp/group-ledger/settlement"
)

// =============================================================================
// GROUPS & MEMBERS
// =============================================================================

type CreateGroupRequest struct {
	Name string `json:"name"`
}

type JoinGroupRequest struct {
	InviteCode string `json:"invite_code"`
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
}

type GroupDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	InviteCode string `json:"invite_code"`
	CreatedAt  string `json:"created_at"`
}

type MemberDTO struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

type InviteCodeResponse struct {
	InviteCode string `json:"invite_code"`
}

// =============================================================================
// EXPENSES
// =============================================================================

type ParticipantRequest struct {
	UserID string           `json:"user_id"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type CreateExpenseRequest struct {
	PayerID      string               `json:"payer_id,omitempty"`
	Amount       decimal.Decimal      `json:"amount"`
	Description  string               `json:"description"`
	Date         string               `json:"date,omitempty"`
	SplitType    string               `json:"split_type"`
	Participants []ParticipantRequest `json:"participants"`
}

type ExpenseSplitDTO struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type ExpenseDTO struct {
	ID          string            `json:"id"`
	GroupID     string            `json:"group_id"`
	PayerID     string            `json:"payer_id"`
	Amount      string            `json:"amount"`
	Description string            `json:"description"`
	Date        string            `json:"date"`
	SplitType   string            `json:"split_type"`
	Splits      []ExpenseSplitDTO `json:"splits"`
	CreatedAt   string            `json:"created_at"`
}

// =============================================================================
// BALANCES & SETTLEMENTS
// =============================================================================

type BalanceDTO struct {
	UserID    string `json:"user_id"`
	Balance   string `json:"balance"`
	UpdatedAt string `json:"updated_at"`
}

type SettlementRequest struct {
	Participants []string `json:"participants,omitempty"`
	Confirmed    bool     `json:"confirmed"`
}

type PositionDTO struct {
	UserID         string `json:"user_id"`
	CurrentBalance string `json:"current_balance"`
	TargetBalance  string `json:"target_balance"`
	WillOwe        string `json:"will_owe"`
	WillReceive    string `json:"will_receive"`
}

type TransferDTO struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Amount string `json:"amount"`
}

type PreviewResponse struct {
	TotalBalance     string        `json:"total_balance"`
	EqualShare       string        `json:"equal_share"`
	ParticipantCount int           `json:"participant_count"`
	Positions        []PositionDTO `json:"positions"`
	TotalOwed        string        `json:"total_owed"`
	TotalToReceive   string        `json:"total_to_receive"`
	Transfers        []TransferDTO `json:"transfers"`
}

type SettlementDTO struct {
	ID        string `json:"id"`
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	Amount    string `json:"amount"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

type SummaryDTO struct {
	TotalBalance     string `json:"total_balance"`
	EqualShare       string `json:"equal_share"`
	ParticipantCount int    `json:"participant_count"`
	TransferCount    int    `json:"transfer_count"`
	TotalTransferred string `json:"total_transferred"`
}

type ExecuteResponse struct {
	Settlements     []SettlementDTO `json:"settlements"`
	UpdatedBalances []BalanceDTO    `json:"updated_balances"`
	Summary         SummaryDTO      `json:"summary"`
}

type SplitEquallyResponse struct {
	Settlements []SettlementDTO `json:"settlements"`
	EqualShare  string          `json:"equal_share"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func moneyString(d decimal.Decimal) string {
	return d.StringFixed(ledger.MoneyScale)
}

func timeString(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toGroupDTO(g membership.Group) GroupDTO {
	return GroupDTO{
		ID:         string(g.ID),
		Name:       g.Name,
		InviteCode: g.InviteCode,
		CreatedAt:  timeString(g.CreatedAt),
	}
}

func toMemberDTO(m membership.Member) MemberDTO {
	return MemberDTO{
		UserID:   string(m.UserID),
		Role:     string(m.Role),
		JoinedAt: timeString(m.JoinedAt),
	}
}

func toExpenseDTO(e ledger.SharedExpense) ExpenseDTO {
	splits := make([]ExpenseSplitDTO, len(e.Splits))
	for i, s := range e.Splits {
		splits[i] = ExpenseSplitDTO{UserID: string(s.UserID), Amount: moneyString(s.Amount)}
	}
	return ExpenseDTO{
		ID:          string(e.ID),
		GroupID:     string(e.GroupID),
		PayerID:     string(e.PayerID),
		Amount:      moneyString(e.Amount),
		Description: e.Description,
		Date:        timeString(e.Date),
		SplitType:   string(e.SplitType),
		Splits:      splits,
		CreatedAt:   timeString(e.CreatedAt),
	}
}

func toBalanceDTOs(rows []ledger.GroupBalance) []BalanceDTO {
	dtos := make([]BalanceDTO, len(rows))
	for i, b := range rows {
		dtos[i] = BalanceDTO{
			UserID:    string(b.UserID),
			Balance:   moneyString(b.Balance),
			UpdatedAt: timeString(b.UpdatedAt),
		}
	}
	return dtos
}

func toSettlementDTOs(list []ledger.Settlement) []SettlementDTO {
	dtos := make([]SettlementDTO, len(list))
	for i, s := range list {
		dtos[i] = SettlementDTO{
			ID:        string(s.ID),
			FromID:    string(s.FromID),
			ToID:      string(s.ToID),
			Amount:    moneyString(s.Amount),
			CreatedBy: string(s.CreatedBy),
			CreatedAt: timeString(s.CreatedAt),
		}
	}
	return dtos
}

func toPreviewResponse(p settlement.Plan) PreviewResponse {
	positions := make([]PositionDTO, len(p.Positions))
	for i, pos := range p.Positions {
		positions[i] = PositionDTO{
			UserID:         string(pos.UserID),
			CurrentBalance: moneyString(pos.CurrentBalance),
			TargetBalance:  moneyString(pos.TargetBalance),
			WillOwe:        moneyString(pos.WillOwe),
			WillReceive:    moneyString(pos.WillReceive),
		}
	}
	transfers := make([]TransferDTO, len(p.Transfers))
	for i, t := range p.Transfers {
		transfers[i] = TransferDTO{FromID: string(t.FromID), ToID: string(t.ToID), Amount: moneyString(t.Amount)}
	}
	return PreviewResponse{
		TotalBalance:     moneyString(p.TotalBalance),
		EqualShare:       moneyString(p.EqualShare),
		ParticipantCount: p.ParticipantCount,
		Positions:        positions,
		TotalOwed:        moneyString(p.TotalOwed),
		TotalToReceive:   moneyString(p.TotalToReceive),
		Transfers:        transfers,
	}
}

func toExecuteResponse(r settlement.Result) ExecuteResponse {
	return ExecuteResponse{
		Settlements:     toSettlementDTOs(r.Settlements),
		UpdatedBalances: toBalanceDTOs(r.UpdatedBalances),
		Summary: SummaryDTO{
			TotalBalance:     moneyString(r.Summary.TotalBalance),
			EqualShare:       moneyString(r.Summary.EqualShare),
			ParticipantCount: r.Summary.ParticipantCount,
			TransferCount:    r.Summary.TransferCount,
			TotalTransferred: moneyString(r.Summary.TotalTransferred),
		},
	}
}

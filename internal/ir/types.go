package ir

import (
	"errors"
	"fmt"
	"strings"
)

// Level is the confirmation level a caller waits for.
type Level int

const (
	// Committed means the block was proposed/included.
	Committed Level = iota + 1
	// Verified means the block was cryptographically proven.
	Verified
)

// ParseLevel parses "committed" or "verified" (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "committed", "commit":
		return Committed, nil
	case "verified", "verify":
		return Verified, nil
	default:
		return 0, fmt.Errorf("unknown confirmation level %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case Committed:
		return "committed"
	case Verified:
		return "verified"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Valid reports whether l is one of the two defined levels.
func (l Level) Valid() bool {
	return l == Committed || l == Verified
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ActionType tags a confirmed operation. The string form matches the
// action_type column of the store.
type ActionType string

const (
	ActionCommit ActionType = "COMMIT"
	ActionVerify ActionType = "VERIFY"
)

// ParseActionType parses "commit" or "verify" (case-insensitive).
func ParseActionType(s string) (ActionType, error) {
	switch ActionType(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionCommit:
		return ActionCommit, nil
	case ActionVerify:
		return ActionVerify, nil
	default:
		return "", fmt.Errorf("unknown action type %q", s)
	}
}

// Level maps the action to the confirmation level it produces.
func (a ActionType) Level() Level {
	if a == ActionVerify {
		return Verified
	}
	return Committed
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ActionType) UnmarshalText(text []byte) error {
	parsed, err := ParseActionType(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Operation is a confirmed block action together with the entities the
// block executed, in block order.
type Operation struct {
	Action      ActionType       `json:"action" yaml:"action"`
	BlockNumber int64            `json:"block_number" yaml:"block_number"`
	Entities    []ExecutedEntity `json:"entities" yaml:"entities"`
}

// ExecutedEntity holds exactly one of Tx or PriorityOp.
type ExecutedEntity struct {
	Tx         *ExecutedTx         `json:"tx,omitempty" yaml:"tx,omitempty"`
	PriorityOp *ExecutedPriorityOp `json:"priority_op,omitempty" yaml:"priority_op,omitempty"`
}

// ExecutedTx is a transaction executed by a block.
type ExecutedTx struct {
	Hash       TxHash  `json:"hash" yaml:"hash"`
	Success    bool    `json:"success" yaml:"success"`
	FailReason *string `json:"fail_reason,omitempty" yaml:"fail_reason,omitempty"`
}

// ExecutedPriorityOp is a priority operation executed by a block.
type ExecutedPriorityOp struct {
	SerialID SerialID `json:"serial_id" yaml:"serial_id"`
}

// Validate checks the operation is well formed.
func (op Operation) Validate() error {
	var errs []error
	if op.Action != ActionCommit && op.Action != ActionVerify {
		errs = append(errs, fmt.Errorf("action: unknown action type %q", op.Action))
	}
	if op.BlockNumber < 0 {
		errs = append(errs, fmt.Errorf("block_number: must be non-negative, got %d", op.BlockNumber))
	}
	for i, e := range op.Entities {
		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("entities[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks that exactly one of Tx or PriorityOp is set.
func (e ExecutedEntity) Validate() error {
	switch {
	case e.Tx == nil && e.PriorityOp == nil:
		return errors.New("one of tx or priority_op is required")
	case e.Tx != nil && e.PriorityOp != nil:
		return errors.New("tx and priority_op are mutually exclusive")
	}
	return nil
}

// TxReceipt is the outcome delivered to transaction waiters.
type TxReceipt struct {
	TxHash      string  `json:"tx_hash"`
	BlockNumber int64   `json:"block_number"`
	Success     bool    `json:"success"`
	FailReason  *string `json:"fail_reason"`
	Verified    bool    `json:"verified"`
}

// PriorityOpStatus is the outcome delivered to priority operation waiters.
type PriorityOpStatus struct {
	Executed bool   `json:"executed"`
	Block    *int64 `json:"block"`
}

// ExecutedPriorityOpRecord is the stored record of an executed priority op.
type ExecutedPriorityOpRecord struct {
	SerialID    SerialID `json:"serial_id"`
	BlockNumber int64    `json:"block_number"`
}

// StoredOperation is the stored state of one block action.
type StoredOperation struct {
	Seq         int64      `json:"seq"`
	BlockNumber int64      `json:"block_number"`
	Action      ActionType `json:"action"`
	Confirmed   bool       `json:"confirmed"`
}

// Clone returns a copy that shares no pointers with r.
func (r TxReceipt) Clone() TxReceipt {
	if r.FailReason != nil {
		reason := *r.FailReason
		r.FailReason = &reason
	}
	return r
}

// Clone returns a copy that shares no pointers with s.
func (s PriorityOpStatus) Clone() PriorityOpStatus {
	if s.Block != nil {
		block := *s.Block
		s.Block = &block
	}
	return s
}

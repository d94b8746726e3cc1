package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
)

// SchemaVersion is the current version of RollRequest and ResultReport.
const SchemaVersion = 1

var (
	// ErrInvalidRollRequest matches request validation failures.
	ErrInvalidRollRequest = apperrors.New(apperrors.CodeInvalidRollRequest, "invalid roll request")
	// ErrUnsupportedSchemaVersion matches contracts decoded with another version.
	ErrUnsupportedSchemaVersion = apperrors.New(apperrors.CodeUnsupportedSchemaVersion, "unsupported schema version")
)

// RollRequest describes one delegated roll. It is immutable once sent and
// consumed exactly once by the receiving executor.
type RollRequest struct {
	Version     int        `json:"version"`
	RequestID   string     `json:"request_id"`
	GroupRollID string     `json:"group_roll_id,omitempty"`
	ActorID     string     `json:"actor_id"`
	RollType    RollType   `json:"roll_type"`
	RollKey     string     `json:"roll_key,omitempty"`
	Config      RollConfig `json:"config"`
	SkipDialog  bool       `json:"skip_dialog,omitempty"`
}

// Grouped reports whether the request belongs to a group roll.
func (r RollRequest) Grouped() bool {
	return r.GroupRollID != ""
}

// Validate checks the fields every executor relies on.
func (r RollRequest) Validate() error {
	if r.Version != SchemaVersion {
		return versionError(r.Version)
	}
	if strings.TrimSpace(r.RequestID) == "" {
		return invalidRequest("request id is required")
	}
	if strings.TrimSpace(r.ActorID) == "" {
		return invalidRequest("actor id is required")
	}
	if !r.RollType.Valid() {
		_, err := ParseRollType(string(r.RollType))
		return err
	}
	if r.RollType == RollCustom && strings.TrimSpace(r.Config.Formula) == "" {
		return invalidRequest("custom rolls require a formula")
	}
	if r.RollType.RequiresKey() && strings.TrimSpace(r.RollKey) == "" {
		return invalidRequest(fmt.Sprintf("%s rolls require a roll key", r.RollType))
	}
	return nil
}

// DecodeRollRequest unmarshals and validates a request.
func DecodeRollRequest(data []byte) (RollRequest, error) {
	var req RollRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return RollRequest{}, apperrors.Wrap(apperrors.CodeInvalidRollRequest, "decode roll request", err)
	}
	if err := req.Validate(); err != nil {
		return RollRequest{}, err
	}
	return req, nil
}

// ResultReport is the completion report a participant sends back for a
// grouped request.
type ResultReport struct {
	Version     int    `json:"version"`
	RequestID   string `json:"request_id,omitempty"`
	GroupRollID string `json:"group_roll_id"`
	ActorID     string `json:"actor_id"`
	Total       int    `json:"total"`
}

// NewResultReport builds a current-version report.
func NewResultReport(requestID, groupRollID, actorID string, total int) ResultReport {
	return ResultReport{
		Version:     SchemaVersion,
		RequestID:   requestID,
		GroupRollID: groupRollID,
		ActorID:     actorID,
		Total:       total,
	}
}

// Validate checks the report carries a group roll and actor.
func (r ResultReport) Validate() error {
	if r.Version != SchemaVersion {
		return versionError(r.Version)
	}
	if strings.TrimSpace(r.GroupRollID) == "" {
		return invalidRequest("group roll id is required")
	}
	if strings.TrimSpace(r.ActorID) == "" {
		return invalidRequest("actor id is required")
	}
	return nil
}

// DecodeResultReport unmarshals and validates a report.
func DecodeResultReport(data []byte) (ResultReport, error) {
	var report ResultReport
	if err := json.Unmarshal(data, &report); err != nil {
		return ResultReport{}, apperrors.Wrap(apperrors.CodeInvalidRollRequest, "decode result report", err)
	}
	if err := report.Validate(); err != nil {
		return ResultReport{}, err
	}
	return report, nil
}

func invalidRequest(message string) error {
	return apperrors.New(apperrors.CodeInvalidRollRequest, message)
}

func versionError(version int) error {
	return apperrors.WithMetadata(
		apperrors.CodeUnsupportedSchemaVersion,
		fmt.Sprintf("schema version %d is not supported", version),
		map[string]string{"version": fmt.Sprint(version)},
	)
}

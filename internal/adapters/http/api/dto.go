package api

import (
	"time"

	"github.com/okian/attribution/internal/domain/model"
)

const dateLayout = time.DateOnly

type jobAccepted struct {
	JobID string `json:"job_id"`
}

type jobResponse struct {
	ID         string           `json:"id"`
	Kind       model.JobKind    `json:"kind"`
	ClientID   string           `json:"client_id,omitempty"`
	Status     model.JobStatus  `json:"status"`
	Checkpoint model.Checkpoint `json:"checkpoint"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func toJob(j model.ProcessingJob) jobResponse {
	return jobResponse{
		ID:         j.ID,
		Kind:       j.Kind,
		ClientID:   j.ClientID,
		Status:     j.Status,
		Checkpoint: j.Checkpoint,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

type jobErrorResponse struct {
	EventID   int64            `json:"event_id,omitempty"`
	Domain    string           `json:"domain,omitempty"`
	Stage     model.ErrorStage `json:"stage"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

type configBody struct {
	Name                  string `json:"name"`
	AttributionWindowDays int    `json:"attribution_window_days"`
	BillingCycle          string `json:"billing_cycle"`
	// ContractStartDate is YYYY-MM-DD.
	ContractStartDate string `json:"contract_start_date,omitempty"`
	ReviewWindowDays  int    `json:"review_window_days"`
}

func toConfigBody(c model.ClientConfig) configBody {
	b := configBody{
		Name:                  c.Name,
		AttributionWindowDays: c.AttributionWindowDays,
		BillingCycle:          string(c.BillingCycle),
		ReviewWindowDays:      c.ReviewWindowDays,
	}
	if c.ContractStartDate != nil {
		b.ContractStartDate = c.ContractStartDate.Format(dateLayout)
	}
	return b
}

type countersResponse struct {
	EventType     model.EventType `json:"event_type"`
	Total         int64           `json:"total"`
	Hard          int64           `json:"hard"`
	Soft          int64           `json:"soft"`
	OutsideWindow int64           `json:"outside_window"`
	NotMatched    int64           `json:"not_matched"`
}

type reviewResponse struct {
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	RespondedBy string     `json:"responded_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

type domainResponse struct {
	ID                string          `json:"id"`
	ClientID          string          `json:"client_id"`
	Domain            string          `json:"domain"`
	FirstEmailSentAt  *time.Time      `json:"first_email_sent_at,omitempty"`
	FirstEventAt      *time.Time      `json:"first_event_at,omitempty"`
	LastEventAt       *time.Time      `json:"last_event_at,omitempty"`
	HasPositiveReply  bool            `json:"has_positive_reply"`
	HasSignUp         bool            `json:"has_sign_up"`
	HasMeetingBooked  bool            `json:"has_meeting_booked"`
	HasPayingCustomer bool            `json:"has_paying_customer"`
	IsWithinWindow    bool            `json:"is_within_window"`
	MatchType         model.MatchType `json:"match_type"`
	Status            model.Status    `json:"status"`
	MatchedEmails     []string        `json:"matched_emails"`
	Review            *reviewResponse `json:"review,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toDomain(d *model.AttributedDomain) domainResponse {
	out := domainResponse{
		ID:                d.ID,
		ClientID:          d.ClientID,
		Domain:            d.Domain,
		FirstEmailSentAt:  d.FirstEmailSentAt,
		FirstEventAt:      d.FirstEventAt,
		LastEventAt:       d.LastEventAt,
		HasPositiveReply:  d.HasPositiveReply,
		HasSignUp:         d.HasSignUp,
		HasMeetingBooked:  d.HasMeetingBooked,
		HasPayingCustomer: d.HasPayingCustomer,
		IsWithinWindow:    d.IsWithinWindow,
		MatchType:         d.MatchType,
		Status:            d.Status,
		MatchedEmails:     d.MatchedEmails,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if out.MatchedEmails == nil {
		out.MatchedEmails = []string{}
	}
	if d.Review.RequestedAt != nil {
		out.Review = &reviewResponse{
			RequestedAt: d.Review.RequestedAt,
			RequestedBy: d.Review.RequestedBy,
			Deadline:    d.Review.Deadline,
			RespondedAt: d.Review.RespondedAt,
			RespondedBy: d.Review.RespondedBy,
			Reason:      d.Review.Reason,
		}
	}
	return out
}

type timelineEntry struct {
	ID        string               `json:"id"`
	Source    model.TimelineSource `json:"source"`
	EventTime time.Time            `json:"event_time"`
	Email     string               `json:"email,omitempty"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
}

type manualEventRequest struct {
	Domain    string    `json:"domain"`
	Email     string    `json:"email"`
	EventType string    `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason"`
	Promote   bool      `json:"promote"`
}

type reviewRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type reviewResponseRequest struct {
	Actor   string `json:"actor"`
	Reason  string `json:"reason"`
	Confirm bool   `json:"confirm"`
}

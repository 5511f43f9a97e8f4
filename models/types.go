package models

import "time"

// Poll status constants
const (
	StatusUpcoming  = "upcoming"
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Request types

type RegisterVoterRequest struct {
	Email string `json:"email"`
}

type OptionInput struct {
	ID   string `json:"id,omitempty"` // empty for new options
	Text string `json:"text"`
}

type CreatePollRequest struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	StartsAt    time.Time     `json:"starts_at"`
	EndsAt      time.Time     `json:"ends_at"`
	ResultsAt   *time.Time    `json:"results_at,omitempty"`
	Settings    Settings      `json:"settings"`
	Options     []OptionInput `json:"options"`
}

// Full metadata payload plus the revision the editor last saw
type EditPollRequest struct {
	ExpectedRevision int64         `json:"expected_revision"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	StartsAt         time.Time     `json:"starts_at"`
	EndsAt           time.Time     `json:"ends_at"`
	ResultsAt        *time.Time    `json:"results_at,omitempty"`
	Settings         Settings      `json:"settings"`
	Options          []OptionInput `json:"options"`
}

type CastVoteRequest struct {
	Options []string `json:"options"`
}

// Response types

type RegisterVoterResponse struct {
	VoterID    string `json:"voter_id"`
	VoterToken string `json:"voter_token"`
}

type VoterResponse struct {
	VoterID string `json:"voter_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

type CreatePollResponse struct {
	PollID   string `json:"poll_id"`
	AdminKey string `json:"admin_key"`
	Revision int64  `json:"revision"`
}

type EditPollResponse struct {
	Revision int64 `json:"revision"`
}

// Participation is what a caller may learn about their own vote. Options
// is empty when the ballot is not linked to the caller (anonymous polls or
// unauthenticated callers).
type Participation struct {
	HasVoted bool       `json:"has_voted"`
	VotedAt  *time.Time `json:"voted_at,omitempty"`
	Options  []string   `json:"options,omitempty"`
}

type ParticipationBatchRequest struct {
	PollIDs []string `json:"poll_ids"`
}

// Keyed by poll ID; polls the caller has not voted in are omitted
type ParticipationBatchResponse struct {
	Polls map[string]Participation `json:"polls"`
}

// Domain types

type Settings struct {
	MaxSelections        int  `json:"max_selections"`
	Anonymous            bool `json:"anonymous"`
	RequireAuth          bool `json:"require_auth"`
	ShowResultsBeforeEnd bool `json:"show_results_before_end"`
	// Voters see counts once they have voted, even while the poll is sealed
	ShowResultsAfterVote bool `json:"show_results_after_vote"`
}

type Option struct {
	ID     string `json:"id"`
	PollID string `json:"poll_id"`
	Text   string `json:"text"`
	Votes  int64  `json:"votes"`
}

type Poll struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Options     []Option   `json:"options"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      time.Time  `json:"ends_at"`
	ResultsAt   *time.Time `json:"results_at,omitempty"`
	Settings    Settings   `json:"settings"`
	Revision    int64      `json:"revision"`
	Status      string     `json:"status"`
	BallotCount int64      `json:"ballot_count"`
	// Set by the API; per-option votes read as zero while false
	ResultsVisible bool      `json:"results_visible"`
	AuthorID       string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasOption reports whether optionID belongs to the poll's current option set.
func (p *Poll) HasOption(optionID string) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

type Ballot struct {
	ID        string    `json:"id"`
	PollID    string    `json:"poll_id"`
	VoterID   *string   `json:"-"` // nil for anonymous ballots
	OptionIDs []string  `json:"option_ids"`
	CastAt    time.Time `json:"cast_at"`
	Anonymous bool      `json:"anonymous"`
}

type ParticipationRecord struct {
	PollID         string    `json:"poll_id"`
	ParticipantKey string    `json:"-"`
	VoterID        *string   `json:"-"`
	VotedAt        time.Time `json:"voted_at"`
}

type Voter struct {
	ID          string    `json:"id"`
	EmailHash   string    `json:"-"`
	EmailCipher string    `json:"-"`
	TokenHash   string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

type OptionCount struct {
	OptionID string `json:"option_id"`
	Votes    int64  `json:"votes"`
}

// Tally is the absolute count pushed to subscribers. Counts is nil when
// results are sealed.
type Tally struct {
	PollID string        `json:"poll_id"`
	Counts []OptionCount `json:"per_option_counts,omitempty"`
	Total  int64         `json:"total"`
	Status string        `json:"status,omitempty"`
}

// Error response

type ErrorResponse struct {
	Error           string `json:"error"`
	Message         string `json:"message,omitempty"`
	CurrentRevision *int64 `json:"current_revision,omitempty"`
}

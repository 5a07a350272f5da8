// Package intake collects a church's onboarding details through a fixed,
// question-by-question conversation.
package intake

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

var (
	ErrEmptyInput   = errors.New("answer is empty")
	ErrInputClosed  = errors.New("conversation is no longer accepting answers")
	ErrNotReady     = errors.New("conversation is not ready to submit")
	ErrSubmitting   = errors.New("submission already in progress")
	ErrSubmitFailed = errors.New("submission failed")
)

// Field is a conversation state: the field being asked, or a terminal phase.
type Field string

const (
	FieldChurchName   Field = "churchName"
	FieldWebsite      Field = "website"
	FieldDenomination Field = "denomination"
	FieldSocials      Field = "socials"
	FieldSummary      Field = "summary"
	FieldCompleted    Field = "completed"
)

var fieldOrder = []Field{FieldChurchName, FieldWebsite, FieldDenomination, FieldSocials, FieldSummary, FieldCompleted}

func (f Field) next() Field {
	i := slices.Index(fieldOrder, f)
	if i < 0 || i == len(fieldOrder)-1 {
		return FieldCompleted
	}
	return fieldOrder[i+1]
}

// Accepting reports whether the field takes a free-text answer.
func (f Field) Accepting() bool {
	return f != FieldSummary && f != FieldCompleted
}

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const (
	promptGreeting     = "Greetings. I am the SermonFlow steward. I'm here to help set up your sanctuary in our system. To begin, may I ask the name of your church?"
	promptWebsite      = "Thank you. It is a blessing to serve %s. Do you have a website URL we can reference?"
	promptDenomination = "Excellent. Understanding your theological tradition helps us tailor the experience. What represents your theology or denomination?"
	promptSocials      = "Understood. Finally, to help us connect with your community's voice, could you share your Instagram or Facebook handles? (You can say 'none' if skipped)"
	promptSummary      = "I have gathered all the necessary details. Please review the summary below."
	promptSubmitted    = "Your request has been submitted. Our researchers will now begin the deep work of analyzing your sermons and style."
	promptRetry        = "Forgive me, there was an issue submitting your information. Please try again."
)

// Record is the structured result handed to submission.
type Record struct {
	ChurchName   string            `json:"churchName"`
	Website      string            `json:"website"`
	Denomination string            `json:"denomination"`
	Socials      map[string]string `json:"socialLinks"`
	SocialsRaw   string            `json:"socialsRaw"`
}

// Submitter persists a completed record.
type Submitter interface {
	Submit(ctx context.Context, rec Record) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, rec Record) error

func (f SubmitterFunc) Submit(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Conversation is safe for concurrent use. The submitter runs outside the
// lock; while it runs the conversation stays in summary and rejects input.
type Conversation struct {
	mu         sync.Mutex
	field      Field
	answers    map[Field]string
	log        []Message
	submitting bool
	submitter  Submitter
}

// New starts a conversation at the church name question.
func New(submitter Submitter) *Conversation {
	return &Conversation{
		field:     FieldChurchName,
		answers:   make(map[Field]string),
		log:       []Message{{Role: RoleSystem, Content: promptGreeting}},
		submitter: submitter,
	}
}

// State returns the current field.
func (c *Conversation) State() Field {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.field
}

// Messages returns a copy of the message log.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.log)
}

// Answers returns a copy of the collected answers keyed by field.
func (c *Conversation) Answers() map[Field]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.answers)
}

// SubmitAnswer records text for the current field and advances.
func (c *Conversation) SubmitAnswer(text string) error {
	answer := strings.TrimSpace(text)
	if answer == "" {
		return ErrEmptyInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.field.Accepting() {
		return ErrInputClosed
	}
	c.log = append(c.log, Message{Role: RoleUser, Content: answer})
	c.answers[c.field] = answer
	c.field = c.field.next()
	c.log = append(c.log, Message{Role: RoleSystem, Content: c.promptFor(c.field)})
	return nil
}

func (c *Conversation) promptFor(f Field) string {
	switch f {
	case FieldWebsite:
		return fmt.Sprintf(promptWebsite, c.answers[FieldChurchName])
	case FieldDenomination:
		return promptDenomination
	case FieldSocials:
		return promptSocials
	case FieldSummary:
		return promptSummary
	default:
		return ""
	}
}

// Record returns the structured record once every answer is in.
func (c *Conversation) Record() (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.field.Accepting() {
		return Record{}, ErrNotReady
	}
	return c.buildRecord(), nil
}

func (c *Conversation) buildRecord() Record {
	raw := c.answers[FieldSocials]
	return Record{
		ChurchName:   c.answers[FieldChurchName],
		Website:      c.answers[FieldWebsite],
		Denomination: c.answers[FieldDenomination],
		Socials:      ParseSocials(raw),
		SocialsRaw:   raw,
	}
}

// Summary renders the record for review.
func (c *Conversation) Summary() (string, error) {
	rec, err := c.Record()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Church:       %s\n", rec.ChurchName)
	fmt.Fprintf(&sb, "Website:      %s\n", rec.Website)
	fmt.Fprintf(&sb, "Denomination: %s\n", rec.Denomination)
	if len(rec.Socials) == 0 {
		sb.WriteString("Socials:      none\n")
	} else {
		sb.WriteString("Socials:\n")
		for _, platform := range slices.Sorted(maps.Keys(rec.Socials)) {
			fmt.Fprintf(&sb, "  %-10s %s\n", platform+":", rec.Socials[platform])
		}
	}
	return sb.String(), nil
}

// Confirm submits the record. On failure the conversation stays in summary
// with every answer kept, so Confirm can be retried.
func (c *Conversation) Confirm(ctx context.Context) error {
	c.mu.Lock()
	if c.field != FieldSummary {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitting
	}
	c.submitting = true
	rec := c.buildRecord()
	c.mu.Unlock()

	err := c.submitter.Submit(ctx, rec)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	if err != nil {
		c.log = append(c.log, Message{Role: RoleSystem, Content: promptRetry})
		return fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	c.field = FieldCompleted
	c.log = append(c.log, Message{Role: RoleSystem, Content: promptSubmitted})
	return nil
}

package advice

import (
	"context"
	"math/rand/v2"
	"time"
)

// FollowUp is appended to every canned answer.
const FollowUp = " Would you like more specific advice about your tax situation?"

const DefaultDelay = time.Second

var responses = [...]string{
	"Based on your situation, you might be eligible for the home office deduction if you use part of your home exclusively for business.",
	"Have you considered maximizing your retirement contributions? This can significantly reduce your taxable income.",
	"For self-employed individuals, quarterly estimated tax payments are crucial to avoid penalties.",
	"The standard deduction for 2025 is $13,850 for single filers and $27,700 for married couples filing jointly.",
	"If you've worked remotely in different states, you may need to file multiple state tax returns.",
	"Charitable donations are deductible if you itemize your deductions rather than taking the standard deduction.",
	"Capital gains from investments held longer than a year qualify for lower long-term capital gains tax rates.",
	"If you're a gig worker or freelancer, don't forget to deduct your business expenses to reduce your taxable income.",
	"Education expenses might qualify for tax credits like the American Opportunity Credit or the Lifetime Learning Credit.",
	"Medical expenses exceeding 7.5% of your adjusted gross income can be deducted if you itemize.",
}

// Responses returns a copy of the canned answer set in order.
func Responses() []string {
	out := make([]string, len(responses))
	copy(out, responses[:])
	return out
}

// Responder stands in for a real tax assistant: it picks one canned answer
// at random and waits a fixed delay before returning it.
type Responder struct {
	delay time.Duration
	intn  func(n int) int
}

type Option func(*Responder)

// WithDelay overrides the artificial latency. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(r *Responder) {
		if d >= 0 {
			r.delay = d
		}
	}
}

// WithIntn replaces the random index source.
func WithIntn(intn func(n int) int) Option {
	return func(r *Responder) {
		if intn != nil {
			r.intn = intn
		}
	}
}

func NewResponder(opts ...Option) *Responder {
	r := &Responder{delay: DefaultDelay, intn: rand.IntN}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Respond returns an answer for message. The message is accepted for the
// interface's sake only; its content never affects the result. It returns
// ctx.Err() if ctx ends during the delay.
func (r *Responder) Respond(ctx context.Context, message string) (string, error) {
	answer := responses[r.intn(len(responses))] + FollowUp
	if r.delay <= 0 {
		return answer, nil
	}
	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return answer, nil
	}
}

/*
Copyright 2025 Fiskal Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package authority

import "context"

// StubClient is an injectable test double. Each decision function defaults
// to acceptance when unset, so tests only wire the branch under exercise.
type StubClient struct {
	SubmitFunc     func(ctx context.Context, signedPayload []byte) (*SubmitResult, error)
	PollStatusFunc func(ctx context.Context, ticketID string) (*StatusResult, error)
	GuideFunc      func(ctx context.Context, signedPayload []byte) (*GuideResult, error)

	SubmitCalls int
	PollCalls   int
	GuideCalls  int
}

func (s *StubClient) Submit(ctx context.Context, signedPayload []byte) (*SubmitResult, error) {
	s.SubmitCalls++
	if s.SubmitFunc != nil {
		return s.SubmitFunc(ctx, signedPayload)
	}
	return &SubmitResult{Accepted: true, TicketID: "tkt_stub"}, nil
}

func (s *StubClient) PollStatus(ctx context.Context, ticketID string) (*StatusResult, error) {
	s.PollCalls++
	if s.PollStatusFunc != nil {
		return s.PollStatusFunc(ctx, ticketID)
	}
	return &StatusResult{Verdict: VerdictAccepted, Ack: []byte(`{"receipt":"stub"}`)}, nil
}

func (s *StubClient) CommunicateGuide(ctx context.Context, signedPayload []byte) (*GuideResult, error) {
	s.GuideCalls++
	if s.GuideFunc != nil {
		return s.GuideFunc(ctx, signedPayload)
	}
	return &GuideResult{Accepted: true, Code: "AT-STUB-0001"}, nil
}

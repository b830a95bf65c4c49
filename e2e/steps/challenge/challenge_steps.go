package challenge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"joingate/e2e/api"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Configure(groups []string, attempts int, maxAge time.Duration)
	FixPuzzle(a, b int)
	Join(subject, group string) error
	ForgedJoin(subject, group string) error
	Say(subject, group string, messageID int64, text string) error
	Calls(action string) []api.Call
	LastStatus() int
}

// RegisterSteps registers join verification step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &challengeSteps{tc: tc}

	ctx.Step(`^group "([^"]*)" is monitored with (\d+) attempts and a (\S+) deadline$`, steps.groupIsMonitored)
	ctx.Step(`^the next puzzle is (\d+) \+ (\d+)$`, steps.nextPuzzleIs)

	ctx.Step(`^member "([^"]*)" joins group "([^"]*)"$`, steps.memberJoins)
	ctx.Step(`^member "([^"]*)" says "([^"]*)" in group "([^"]*)"$`, steps.memberSays)
	ctx.Step(`^member "([^"]*)" says "([^"]*)" as message (\d+) in group "([^"]*)"$`, steps.memberSaysAsMessage)
	ctx.Step(`^a forged join for member "([^"]*)" in group "([^"]*)" is delivered$`, steps.forgedJoin)

	ctx.Step(`^the bot posts a prompt mentioning "([^"]*)" in group "([^"]*)"$`, steps.botPostsPrompt)
	ctx.Step(`^the bot posts "([^"]*)" in group "([^"]*)"$`, steps.botPosts)
	ctx.Step(`^the bot has posted (\d+) messages? in group "([^"]*)"$`, steps.botHasPosted)
	ctx.Step(`^the bot stays silent$`, steps.botStaysSilent)
	ctx.Step(`^message (\d+) is recalled$`, steps.messageIsRecalled)
	ctx.Step(`^member "([^"]*)" is removed from group "([^"]*)"$`, steps.memberIsRemoved)
	ctx.Step(`^within (\S+) member "([^"]*)" is removed from group "([^"]*)"$`, steps.memberIsRemovedWithin)
	ctx.Step(`^member "([^"]*)" is not removed from group "([^"]*)"$`, steps.memberIsNotRemoved)
	ctx.Step(`^the last delivery is answered with status (\d+)$`, steps.lastDeliveryStatus)
}

type challengeSteps struct {
	tc TestContext
}

func (s *challengeSteps) groupIsMonitored(_ context.Context, group string, attempts int, deadline string) error {
	maxAge, err := time.ParseDuration(deadline)
	if err != nil {
		return err
	}
	s.tc.Configure([]string{group}, attempts, maxAge)
	return nil
}

func (s *challengeSteps) nextPuzzleIs(_ context.Context, a, b int) error {
	s.tc.FixPuzzle(a, b)
	return nil
}

func (s *challengeSteps) memberJoins(_ context.Context, subject, group string) error {
	return s.tc.Join(subject, group)
}

func (s *challengeSteps) memberSays(_ context.Context, subject, text, group string) error {
	return s.tc.Say(subject, group, 0, text)
}

func (s *challengeSteps) memberSaysAsMessage(_ context.Context, subject, text string, messageID int64, group string) error {
	return s.tc.Say(subject, group, messageID, text)
}

func (s *challengeSteps) forgedJoin(_ context.Context, subject, group string) error {
	return s.tc.ForgedJoin(subject, group)
}

func (s *challengeSteps) botPostsPrompt(_ context.Context, subject, group string) error {
	posts := s.postsIn(group)
	if len(posts) == 0 {
		return fmt.Errorf("expected a prompt in group %s, bot posted nothing", group)
	}
	text := posts[0].Text()
	if !strings.Contains(text, "@"+subject) || !strings.Contains(text, "= ?") {
		return fmt.Errorf("first post is not a prompt for %s: %q", subject, text)
	}
	return nil
}

func (s *challengeSteps) botPosts(_ context.Context, fragment, group string) error {
	var seen []string
	for _, c := range s.postsIn(group) {
		if strings.Contains(c.Text(), fragment) {
			return nil
		}
		seen = append(seen, c.Text())
	}
	return fmt.Errorf("no post in group %s contains %q, saw %q", group, fragment, seen)
}

func (s *challengeSteps) botHasPosted(_ context.Context, n int, group string) error {
	if got := len(s.postsIn(group)); got != n {
		return fmt.Errorf("expected %d posts in group %s, got %d", n, group, got)
	}
	return nil
}

func (s *challengeSteps) botStaysSilent(context.Context) error {
	if calls := s.tc.Calls(""); len(calls) > 0 {
		return fmt.Errorf("expected no platform calls, got %d (first: %s)", len(calls), calls[0].Action)
	}
	return nil
}

func (s *challengeSteps) messageIsRecalled(_ context.Context, messageID int64) error {
	for _, c := range s.tc.Calls("delete_msg") {
		if c.Int("message_id") == messageID {
			return nil
		}
	}
	return fmt.Errorf("message %d was not recalled", messageID)
}

func (s *challengeSteps) memberIsRemoved(_ context.Context, subject, group string) error {
	if !s.removed(subject, group) {
		return fmt.Errorf("member %s was not removed from group %s", subject, group)
	}
	return nil
}

func (s *challengeSteps) memberIsRemovedWithin(ctx context.Context, wait, subject, group string) error {
	d, err := time.ParseDuration(wait)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if s.removed(subject, group) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return s.memberIsRemoved(ctx, subject, group)
}

func (s *challengeSteps) memberIsNotRemoved(_ context.Context, subject, group string) error {
	if s.removed(subject, group) {
		return fmt.Errorf("member %s was removed from group %s", subject, group)
	}
	return nil
}

func (s *challengeSteps) lastDeliveryStatus(_ context.Context, status int) error {
	if got := s.tc.LastStatus(); got != status {
		return fmt.Errorf("expected status %d, got %d", status, got)
	}
	return nil
}

func (s *challengeSteps) postsIn(group string) []api.Call {
	var out []api.Call
	for _, c := range s.tc.Calls("send_group_msg") {
		if strconv.FormatInt(c.Int("group_id"), 10) == group {
			out = append(out, c)
		}
	}
	return out
}

func (s *challengeSteps) removed(subject, group string) bool {
	for _, c := range s.tc.Calls("set_group_kick") {
		if strconv.FormatInt(c.Int("user_id"), 10) == subject && strconv.FormatInt(c.Int("group_id"), 10) == group {
			return true
		}
	}
	return false
}

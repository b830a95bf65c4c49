package service

import (
	"fmt"

	"joingate/internal/captcha/models"
)

func promptMessage(subject models.SubjectID, puzzle models.Puzzle, attempts int) models.Message {
	return models.Message{}.
		Text("Welcome ").
		Mention(subject).
		Text(" to the group! Please complete the verification.\n").
		Text(fmt.Sprintf("%d + %d = ?\n", puzzle.A, puzzle.B)).
		Text(fmt.Sprintf("(tip: reply with the number. You have %d %s; after that you will be removed from the group)", attempts, plural(attempts, "attempt", "attempts")))
}

func successMessage(subject models.SubjectID) models.Message {
	return models.Message{}.
		Mention(subject).
		Text(" verification passed, welcome!\nPlease read the group notice first.")
}

func wrongAnswerMessage(subject models.SubjectID, remaining int) models.Message {
	return models.Message{}.
		Mention(subject).
		Text(fmt.Sprintf(" wrong answer, you have %d %s left", remaining, plural(remaining, "attempt", "attempts")))
}

func failedMessage(subject models.SubjectID) models.Message {
	return models.Message{}.
		Mention(subject).
		Text(" verification failed, you have been removed from the group.")
}

func timeoutMessage(subject models.SubjectID) models.Message {
	return models.Message{}.
		Mention(subject).
		Text(" verification timed out, you have been removed from the group.")
}

func errorMessage() models.Message {
	return models.Message{}.Text("The join verification failed due to an internal error, please contact an administrator.")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

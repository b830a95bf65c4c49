package e2e

import (
	"github.com/cucumber/godog"

	"joingate/e2e/steps/challenge"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	challenge.RegisterSteps(ctx, tc)
}

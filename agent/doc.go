// Copyright 2024 guardflow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent connects the guardrail pipeline to a model call.

# Overview

GuardrailsCoordinator owns two guardrail sets: one runs on user input before
the model is called, the other on the model's output afterwards. Each stage
has its own Executor, so logs, spans, metrics and audit entries are labelled
"input" or "output".

	user input ──► CheckInput ──► model ──► CheckOutput ──► caller
	                 │                         │
	                 └── guardrails.Executor ──┘

# Results

CheckInput and CheckOutput return the content to forward, the
ExecutionResult and an error:

  - nil when the result passed (all failures, if any, are Low)
  - types.Error with code GUARDRAILS_VIOLATED wrapping a
    guardrails.MultipleFailuresError when the result did not pass; the
    transformed content is still returned
  - types.Error with code GUARDRAIL_ABORTED wrapping a guardrails.AbortError
    when a Critical fail-fast guardrail stopped the run

BuildValidationFeedbackMessage turns a failed output result into a message
that asks the model to correct its response.

# Configuration

NewGuardrailsCoordinatorFromConfig builds both sets from
config.GuardrailsConfig through guardrails.BuildSet. Sets are extended with
AddInputGuardrail and AddOutputGuardrail, which replace the set with an
extended copy; checks already running keep the previous set.
*/
package agent

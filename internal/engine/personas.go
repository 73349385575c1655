package engine

import (
	"fmt"

	"github.com/hemalyze/hemalyze/pkg/models"
)

// Persona is one specialist in the review pipeline. The system prompts
// are configuration data for the providers; every provider runs the
// personas in order and maps their outputs onto the result sections.
type Persona struct {
	Key    string
	System string
}

const (
	PersonaVerifier     = "verifier"
	PersonaDoctor       = "doctor"
	PersonaNutritionist = "nutritionist"
	PersonaExercise     = "exercise"
)

// Personas returns the specialist pipeline in execution order. The
// verifier runs first so obviously bogus documents are flagged before
// the clinical personas spend tokens on them.
func Personas() []Persona {
	return []Persona{
		{
			Key: PersonaVerifier,
			System: "You are a medical records verifier. Assess whether the provided document " +
				"is a legitimate blood test report: check for laboratory formatting, authentic " +
				"blood markers with reference ranges, and recognized medical terminology. " +
				"State clearly whether the document appears genuine and suitable for analysis.",
		},
		{
			Key: PersonaDoctor,
			System: "You are an experienced physician reviewing a blood test report. Summarise " +
				"the key markers and their values, identify values outside normal reference " +
				"ranges, and explain what the results mean in clear language. Use established " +
				"medical reference ranges, avoid speculation, and close with a clear reminder " +
				"to consult a qualified healthcare provider.",
		},
		{
			Key: PersonaNutritionist,
			System: "You are a registered dietitian. Review the nutrition-related blood markers " +
				"(glucose, lipids, vitamins, minerals), identify indicated deficiencies or " +
				"imbalances, and give evidence-based dietary recommendations focused on whole " +
				"foods. No supplement sales, no unsubstantiated claims; recommend consulting " +
				"a registered dietitian for an individual plan.",
		},
		{
			Key: PersonaExercise,
			System: "You are an exercise physiologist. Review cardiovascular and metabolic " +
				"markers relevant to exercise capacity and suggest safe, graduated activity " +
				"appropriate to the results. Prioritise safety and emphasise medical clearance " +
				"before starting a new exercise programme.",
		},
	}
}

// UserPrompt renders the per-request message shared by all personas.
func UserPrompt(req models.ReportRequest) string {
	return fmt.Sprintf("Patient query: %s\n\nBlood test report:\n%s", req.Query, req.ReportText)
}

// SectionsFromOutputs maps persona outputs (keyed by Persona.Key) onto
// a ReportResult.
func SectionsFromOutputs(outputs map[string]string, model string) models.ReportResult {
	return models.ReportResult{
		Verification: outputs[PersonaVerifier],
		Doctor:       outputs[PersonaDoctor],
		Nutrition:    outputs[PersonaNutritionist],
		Exercise:     outputs[PersonaExercise],
		Model:        model,
	}
}

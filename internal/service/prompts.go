package service

import (
	"fmt"
	"strings"

	"mindgarden/backend/internal/models"
)

// Approach is a therapy approach tag
type Approach string

const (
	ApproachCBT         Approach = "cbt"
	ApproachMindfulness Approach = "mindfulness"
	ApproachACT         Approach = "act"
)

// ApproachInfo describes an approach in the catalogue
type ApproachInfo struct {
	ID          Approach `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
}

var approaches = []ApproachInfo{
	{ID: ApproachCBT, Name: "Cognitive Behavioral Therapy", Description: "Focuses on changing negative thought patterns and behaviors"},
	{ID: ApproachMindfulness, Name: "Mindfulness-Based Therapy", Description: "Develops awareness and acceptance of present moment experiences"},
	{ID: ApproachACT, Name: "Acceptance & Commitment Therapy", Description: "Emphasizes psychological flexibility and value-based actions"},
}

// Approaches returns the therapy approach catalogue
func Approaches() []ApproachInfo {
	out := make([]ApproachInfo, len(approaches))
	copy(out, approaches)
	return out
}

// ParseApproach validates an approach tag
func ParseApproach(tag string) (Approach, bool) {
	for _, a := range approaches {
		if string(a.ID) == strings.ToLower(tag) {
			return a.ID, true
		}
	}
	return "", false
}

// Name returns the display name, or a generic label for unknown tags
func (a Approach) Name() string {
	for _, info := range approaches {
		if info.ID == a {
			return info.Name
		}
	}
	return "Therapy"
}

// Role selects the instruction template wrapped around a user utterance
type Role string

// RoleGeneral is the general wellness assistant
const RoleGeneral Role = "general"

// Approach reports the therapy approach a role stands for
func (r Role) Approach() (Approach, bool) {
	return ParseApproach(string(r))
}

const (
	generalFallback = "I'm having trouble connecting right now. Please try again later or check your internet connection. In the meantime, remember to practice self-care and reach out to supportive people in your life."
	therapyFallback = "I apologize, but I'm having trouble connecting right now. Let's take a brief pause in our session. You can try again in a moment."
	voiceFallback   = "I'm having trouble processing your message right now. Could you try again in a moment?"
)

const generalInstruction = "You are a compassionate mental health support assistant. " +
	"Your role is to provide empathetic, supportive, and helpful responses to mental health related queries. " +
	"Please respond to the following question with care and understanding, focusing on mental well-being and emotional support. " +
	"If the question is not directly related to mental health, gently guide the conversation back to mental wellness topics. " +
	"Always maintain a supportive and non-judgmental tone."

var initialInstructions = map[Approach]string{
	ApproachCBT: "Cognitive Behavioral Therapy (CBT). Conduct a therapy session using CBT techniques. " +
		"Start by introducing yourself as a CBT-focused AI therapist and explain briefly how CBT works. " +
		"Ask open-ended questions to understand what brings the user to therapy today. " +
		"Help identify negative thought patterns and guide the user to challenge them. " +
		"Use techniques like cognitive restructuring, behavioral activation, and structured problem-solving. " +
		"Be empathetic, non-judgmental, and supportive throughout the session.",
	ApproachMindfulness: "Mindfulness-Based Therapy. Conduct a mindfulness-oriented therapy session. " +
		"Start by introducing yourself as a mindfulness-focused AI therapist and explain briefly how mindfulness can help. " +
		"Begin with a brief centering exercise to help the user connect with the present moment. " +
		"Ask about their current experience and encourage non-judgmental awareness. " +
		"Offer mindfulness techniques applicable to their situation. " +
		"Be gentle, present, and create a space of acceptance.",
	ApproachACT: "Acceptance and Commitment Therapy (ACT). Conduct a therapy session using ACT principles. " +
		"Start by introducing yourself as an ACT-focused AI therapist and explain briefly how ACT works. " +
		"Help the user identify their values and committed actions that align with those values. " +
		"Teach psychological flexibility skills and facilitate acceptance of difficult thoughts and feelings. " +
		"Use metaphors and experiential exercises to illustrate ACT concepts. " +
		"Be compassionate, present, and focused on workability rather than \"feeling better\".",
}

const defaultInitialInstruction = "various evidence-based therapy approaches. Conduct a supportive therapy session. " +
	"Start by introducing yourself and asking what brings the user to therapy today. " +
	"Use active listening, empathy, and open-ended questions to explore their concerns. " +
	"Offer appropriate therapeutic techniques based on what you learn. " +
	"Be supportive, non-judgmental, and focused on the user's wellbeing."

var continuationInstructions = map[Approach]string{
	ApproachCBT: "Cognitive Behavioral Therapy (CBT) techniques. " +
		"Remember to identify negative thought patterns, help challenge distorted thinking, " +
		"and suggest practical cognitive and behavioral strategies. " +
		"Stay empathetic and supportive throughout.",
	ApproachMindfulness: "Mindfulness-Based Therapy techniques. " +
		"Focus on present-moment awareness, non-judgmental acceptance, " +
		"and mindfulness practices relevant to the user's situation. " +
		"Maintain a gentle, present, and accepting tone.",
	ApproachACT: "Acceptance and Commitment Therapy (ACT) principles. " +
		"Help the user develop psychological flexibility, clarify their values, " +
		"and commit to actions aligned with those values. " +
		"Use ACT-consistent language about acceptance and committed action.",
}

const defaultContinuationInstruction = "evidence-based therapy techniques appropriate to the user's needs. " +
	"Maintain therapeutic presence, empathy, and focus on their wellbeing."

const (
	textTherapyInitialSuffix = "\n\nThis is a premium AI therapy feature, so provide a high-quality, in-depth therapeutic response. " +
		"Focus on being helpful and supportive while providing deeper insights than a regular chatbot. " +
		"Begin the session now with your introduction and first question."
	voiceTherapyInitialSuffix = "\n\nThis is a premium AI voice therapy feature, so provide concise but impactful therapeutic responses. " +
		"Focus on being helpful and supportive, but keep responses under 3-4 paragraphs for better speech synthesis. " +
		"Begin the session now with your introduction and first question."
	textTherapyContinuationSuffix  = "\n\nThis is a premium AI therapy feature, so provide a high-quality, in-depth therapeutic response."
	voiceTherapyContinuationSuffix = "\n\nThis is a premium AI voice therapy feature, so provide concise but impactful therapeutic responses. " +
		"Keep responses under 3-4 paragraphs for better speech synthesis."
)

// Default utterances used when a voice turn has neither a transcript nor typed text
var defaultVoiceUtterances = map[Approach]string{
	ApproachCBT:         "I notice I tend to catastrophize situations and assume the worst.",
	ApproachMindfulness: "I'm finding it hard to stay present with my thoughts and feelings.",
	ApproachACT:         "I struggle with accepting difficult emotions without trying to avoid them.",
}

const defaultVoiceUtterance = "I've been feeling stressed and anxious lately."

func defaultUtterance(a Approach) string {
	if u, ok := defaultVoiceUtterances[a]; ok {
		return u
	}
	return defaultVoiceUtterance
}

// generalPrompt wraps a question for the general wellness assistant
func generalPrompt(question string, history []models.Message) string {
	var b strings.Builder
	b.WriteString(generalInstruction)
	writeTranscript(&b, history)
	b.WriteString(" Question: ")
	b.WriteString(question)
	return b.String()
}

// therapyInitialPrompt opens a session in the given approach
func therapyInitialPrompt(a Approach, voice bool) string {
	instruction, ok := initialInstructions[a]
	if !ok {
		instruction = defaultInitialInstruction
	}
	suffix := textTherapyInitialSuffix
	if voice {
		suffix = voiceTherapyInitialSuffix
	}
	return "You are an AI-powered mental health assistant with expertise in " + instruction + suffix
}

// therapyContinuationPrompt continues a session with the user's latest input
func therapyContinuationPrompt(a Approach, input string, history []models.Message, voice bool) string {
	instruction, ok := continuationInstructions[a]
	if !ok {
		instruction = defaultContinuationInstruction
	}
	suffix := textTherapyContinuationSuffix
	if voice {
		suffix = voiceTherapyContinuationSuffix
	}

	var b strings.Builder
	b.WriteString("You are continuing an AI therapy session using ")
	b.WriteString(instruction)
	b.WriteString(suffix)
	writeTranscript(&b, history)
	b.WriteString("\nThe user's most recent message is: \"" + input + "\"\n\n")
	b.WriteString("Remember previous context from the conversation and respond as a skilled therapist would.")
	return b.String()
}

// writeTranscript appends prior question and answer turns. System messages
// are session metadata and never reach the model.
func writeTranscript(b *strings.Builder, history []models.Message) {
	wrote := false
	for _, m := range history {
		var speaker string
		switch m.Type {
		case models.MessageTypeQuestion:
			speaker = "User"
		case models.MessageTypeAnswer:
			speaker = "Assistant"
		default:
			continue
		}
		if !wrote {
			b.WriteString("\n\nConversation so far:\n")
			wrote = true
		}
		fmt.Fprintf(b, "%s: %s\n", speaker, m.Content)
	}
}

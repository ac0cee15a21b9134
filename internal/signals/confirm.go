package signals

var (
	schedulingConfirmations = NewLexicon(
		"si", "sii", "dale", "ok", "okay", "oki", "okey",
		"ya", "claro", "seguro", "obvio",
		"perfecto", "bueno", "genial", "excelente",
		"demas", "sale", "va", "bakan", "bacan",
		"agend*", "me tinca", "tinca", "me interesa",
		"coordinemos", "hablemos", "llamemos",
		"si quiero", "quiero", "vamos", "hagamoslo", "hagamos",
		"por supuesto", "desde luego", "sin duda", "adelante", "tiremos",
	)
	schedulingConfirmationPhrases = NewLexicon(
		"dame el link", "pasame el link", "enviame el link",
		"quiero la reuni*", "me interesa la reuni*",
	)

	// Assistant wording that offers a meeting.
	meetingOffers = NewLexicon("agend*", "reuni*", "demo", "llama*", "te tinca")
	// Assistant wording that promises the booking link.
	linkPromises = NewLexicon(
		"te paso el link", "te envio el link", "te mando el link",
		"te enviare el link", "para que elijas el dia", "enlace al calendario",
	)
)

// ConfirmsScheduling reports whether text reads as the lead accepting a meeting.
func ConfirmsScheduling(text string) bool {
	normalized := Normalize(text)
	if normalized == "" {
		return false
	}
	return schedulingConfirmations.Any(normalized) || schedulingConfirmationPhrases.Any(normalized)
}

// OffersMeeting reports whether an assistant message proposes a meeting.
func OffersMeeting(text string) bool {
	return meetingOffers.Any(Normalize(text))
}

// PromisesLink reports whether an assistant reply says the booking link is on its way.
func PromisesLink(text string) bool {
	return linkPromises.Any(Normalize(text))
}

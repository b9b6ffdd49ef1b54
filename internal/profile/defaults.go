package profile

// AuthoritativeScammer poses as an official who expects compliance.
var AuthoritativeScammer = Profile{
	ID:                "authoritative_scammer_01",
	NameHint:          "Authority Figure Scammer",
	Gender:            "any",
	AgeRange:          "middle-aged",
	PersonalityTraits: []string{"authoritative", "confident", "urgent", "professional"},
	SpeakingStyle:     []string{"formal", "commanding", "technical-terms"},
	EducationLevel:    "college",
	RolePreference:    RoleScammer,
}

// FriendlyScammer wins trust by sounding helpful and patient.
var FriendlyScammer = Profile{
	ID:                "friendly_scammer_01",
	NameHint:          "Friendly Helper Scammer",
	Gender:            "any",
	AgeRange:          "young",
	PersonalityTraits: []string{"friendly", "helpful", "reassuring", "patient"},
	SpeakingStyle:     []string{"conversational", "empathetic", "casual"},
	EducationLevel:    "high_school",
	RolePreference:    RoleScammer,
}

// UrgentScammer applies time pressure and talks over objections.
var UrgentScammer = Profile{
	ID:                "urgent_scammer_01",
	NameHint:          "Time-Pressure Scammer",
	Gender:            "any",
	AgeRange:          "middle-aged",
	PersonalityTraits: []string{"urgent", "impatient", "persistent", "alarming"},
	SpeakingStyle:     []string{"fast-paced", "interrupting", "repetitive"},
	EducationLevel:    "any",
	RolePreference:    RoleScammer,
}

// TrustingVictim is polite and tends to cooperate.
var TrustingVictim = Profile{
	ID:                "trusting_victim_01",
	NameHint:          "Trusting Individual",
	Gender:            "any",
	AgeRange:          "senior",
	PersonalityTraits: []string{"trusting", "polite", "concerned", "cooperative"},
	SpeakingStyle:     []string{"hesitant", "questioning", "polite"},
	EducationLevel:    "high_school",
	RolePreference:    RoleVictim,
}

// SkepticalVictim asks for proof before doing anything.
var SkepticalVictim = Profile{
	ID:                "skeptical_victim_01",
	NameHint:          "Skeptical Person",
	Gender:            "any",
	AgeRange:          "middle-aged",
	PersonalityTraits: []string{"skeptical", "cautious", "analytical", "questioning"},
	SpeakingStyle:     []string{"probing", "demanding-proof", "suspicious"},
	EducationLevel:    "college",
	RolePreference:    RoleVictim,
}

// BusyVictim is distracted and wants the call over quickly.
var BusyVictim = Profile{
	ID:                "busy_victim_01",
	NameHint:          "Busy Professional",
	Gender:            "any",
	AgeRange:          "young",
	PersonalityTraits: []string{"distracted", "impatient", "efficient", "multitasking"},
	SpeakingStyle:     []string{"brief", "rushed", "direct"},
	EducationLevel:    "graduate",
	RolePreference:    RoleVictim,
}

// ConfusedVictim struggles to follow technical instructions.
var ConfusedVictim = Profile{
	ID:                "confused_victim_01",
	NameHint:          "Confused Individual",
	Gender:            "any",
	AgeRange:          "senior",
	PersonalityTraits: []string{"confused", "anxious", "uncertain", "worried"},
	SpeakingStyle:     []string{"repetitive", "asking-clarification", "slow"},
	EducationLevel:    "high_school",
	RolePreference:    RoleVictim,
}

// Default returns a registry built from the built-in profiles.
func Default() *Registry {
	r, err := NewRegistry([]Profile{
		AuthoritativeScammer,
		FriendlyScammer,
		UrgentScammer,
		TrustingVictim,
		SkepticalVictim,
		BusyVictim,
		ConfusedVictim,
	})
	if err != nil {
		panic("profile: invalid built-in profiles: " + err.Error())
	}
	return r
}

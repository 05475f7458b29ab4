package models

import (
	"fmt"
	"strings"
)

type TransformationType string

const (
	TransformRefactor    TransformationType = "REFACTOR"
	TransformOptimize    TransformationType = "OPTIMIZE"
	TransformPrune       TransformationType = "PRUNE"
	TransformMerge       TransformationType = "MERGE"
	TransformModernize   TransformationType = "MODERNIZE"
	TransformFixSecurity TransformationType = "FIX_SECURITY"
)

var transformationTypes = map[TransformationType]bool{
	TransformRefactor:    true,
	TransformOptimize:    true,
	TransformPrune:       true,
	TransformMerge:       true,
	TransformModernize:   true,
	TransformFixSecurity: true,
}

func ParseTransformationType(s string) (TransformationType, error) {
	t := TransformationType(strings.ToUpper(s))
	if !transformationTypes[t] {
		return "", fmt.Errorf("unknown transformation type %q", s)
	}
	return t, nil
}

// TransformationTypes lists all types in a stable order.
func TransformationTypes() []TransformationType {
	return []TransformationType{
		TransformRefactor,
		TransformOptimize,
		TransformPrune,
		TransformMerge,
		TransformModernize,
		TransformFixSecurity,
	}
}

type VerificationLevel string

const (
	VerificationNone     VerificationLevel = "none"
	VerificationBasic    VerificationLevel = "basic"
	VerificationStandard VerificationLevel = "standard"
	VerificationStrict   VerificationLevel = "strict"
)

// verificationRank orders levels so callers can compare strictness.
var verificationRank = map[VerificationLevel]int{
	VerificationNone:     0,
	VerificationBasic:    1,
	VerificationStandard: 2,
	VerificationStrict:   3,
}

func ParseVerificationLevel(s string) (VerificationLevel, error) {
	l := VerificationLevel(strings.ToLower(s))
	if _, ok := verificationRank[l]; !ok {
		return "", fmt.Errorf("unknown verification level %q", s)
	}
	return l, nil
}

// AtLeast reports whether l is as strict as other or stricter.
func (l VerificationLevel) AtLeast(other VerificationLevel) bool {
	return verificationRank[l] >= verificationRank[other]
}

func VerificationLevels() []VerificationLevel {
	return []VerificationLevel{
		VerificationNone,
		VerificationBasic,
		VerificationStandard,
		VerificationStrict,
	}
}

type ModelTier string

const (
	TierSpecialized ModelTier = "specialized"
	TierPreferred   ModelTier = "preferred"
	TierFallback    ModelTier = "fallback"
)

// FileOutcome is the resolution of a single file within a job. The unchanged
// outcome counts as successful processing; skipped counts as failed.
type FileOutcome string

const (
	FileSuccess   FileOutcome = "success"
	FileUnchanged FileOutcome = "unchanged"
	FileFailed    FileOutcome = "failed"
	FileSkipped   FileOutcome = "skipped"
)

// Successful reports whether the outcome counts toward
// successful_transformations.
func (o FileOutcome) Successful() bool {
	return o == FileSuccess || o == FileUnchanged
}

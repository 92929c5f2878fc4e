// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package fitness defines the synchronized fitness entries (exercises,
// workouts, body measurements and lab results) and the Tracker that keeps
// them in a local SQLite database synchronized with a document backend.
package fitness

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Collection names, shared by the local store and the remote backend
const (
	CollectionExercises  = "exercises"
	CollectionWorkouts   = "workouts"
	CollectionBodyStats  = "body_stats"
	CollectionLabResults = "lab_results"
)

// Collections returns every collection in a stable order
func Collections() []string {
	return []string{CollectionExercises, CollectionWorkouts, CollectionBodyStats, CollectionLabResults}
}

// ErrInvalidEntry is wrapped by every Validate failure
var ErrInvalidEntry = errors.New("invalid entry")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, fmt.Sprintf(format, args...))
}

// MuscleGroups lists the accepted Exercise.MuscleGroup values
var MuscleGroups = []string{"legs", "back", "chest", "shoulders", "biceps", "triceps", "abs", "cardio", "other"}

// Exercise is one logged exercise set group
type Exercise struct {
	Name        string    `json:"name"`
	MuscleGroup string    `json:"muscle_group"`
	Kilos       float64   `json:"kilos"`
	Reps        int       `json:"reps"`
	Sets        int       `json:"sets"`
	PerformedAt time.Time `json:"performed_at"`
	Notes       string    `json:"notes,omitempty"`
}

func (e Exercise) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return invalid("exercise name is required")
	}
	if e.MuscleGroup != "" && !contains(MuscleGroups, e.MuscleGroup) {
		return invalid("unknown muscle group %q", e.MuscleGroup)
	}
	if e.Kilos < 0 || math.IsNaN(e.Kilos) || math.IsInf(e.Kilos, 0) {
		return invalid("kilos must be a non-negative number")
	}
	if e.Reps < 0 || e.Sets < 0 {
		return invalid("reps and sets cannot be negative")
	}
	return nil
}

// Volume is the total lifted weight
func (e Exercise) Volume() float64 {
	sets := e.Sets
	if sets == 0 {
		sets = 1
	}
	return e.Kilos * float64(e.Reps) * float64(sets)
}

// Workout is one training session
type Workout struct {
	Title      string    `json:"title"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Calories   int       `json:"calories"`
	Notes      string    `json:"notes,omitempty"`
}

func (w Workout) Validate() error {
	if w.StartedAt.IsZero() {
		return invalid("workout start time is required")
	}
	if !w.FinishedAt.IsZero() && w.FinishedAt.Before(w.StartedAt) {
		return invalid("workout cannot finish before it starts")
	}
	if w.Calories < 0 {
		return invalid("calories cannot be negative")
	}
	return nil
}

// Duration is zero while the workout is still running
func (w Workout) Duration() time.Duration {
	if w.FinishedAt.IsZero() {
		return 0
	}
	return w.FinishedAt.Sub(w.StartedAt)
}

// BodyStats is one body measurement
type BodyStats struct {
	WeightKg       float64   `json:"weight_kg"`
	BodyFatPercent float64   `json:"body_fat_percent,omitempty"`
	ChestCm        float64   `json:"chest_cm,omitempty"`
	WaistCm        float64   `json:"waist_cm,omitempty"`
	HipsCm         float64   `json:"hips_cm,omitempty"`
	ArmCm          float64   `json:"arm_cm,omitempty"`
	ThighCm        float64   `json:"thigh_cm,omitempty"`
	MeasuredAt     time.Time `json:"measured_at"`
}

func (b BodyStats) Validate() error {
	if b.WeightKg <= 0 {
		return invalid("weight must be positive")
	}
	if b.BodyFatPercent < 0 || b.BodyFatPercent > 100 {
		return invalid("body fat must be between 0 and 100 percent")
	}
	for name, v := range map[string]float64{
		"chest": b.ChestCm, "waist": b.WaistCm, "hips": b.HipsCm, "arm": b.ArmCm, "thigh": b.ThighCm,
	} {
		if v < 0 {
			return invalid("%s circumference cannot be negative", name)
		}
	}
	if b.MeasuredAt.IsZero() {
		return invalid("measurement time is required")
	}
	return nil
}

// LabResult is one blood or lab test value
type LabResult struct {
	TestName      string    `json:"test_name"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit"`
	ReferenceLow  float64   `json:"reference_low,omitempty"`
	ReferenceHigh float64   `json:"reference_high,omitempty"`
	TakenAt       time.Time `json:"taken_at"`
}

func (l LabResult) Validate() error {
	if strings.TrimSpace(l.TestName) == "" {
		return invalid("lab test name is required")
	}
	if l.ReferenceHigh != 0 && l.ReferenceLow > l.ReferenceHigh {
		return invalid("reference range is inverted")
	}
	if l.TakenAt.IsZero() {
		return invalid("sample time is required")
	}
	return nil
}

// InRange reports whether the value lies within the reference range. A
// missing upper bound is treated as open.
func (l LabResult) InRange() bool {
	if l.Value < l.ReferenceLow {
		return false
	}
	return l.ReferenceHigh == 0 || l.Value <= l.ReferenceHigh
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package repository

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-signup-api/internal/models"
)

// languageFields maps the language columns joined into course queries.
type languageFields struct {
	LanguageName               string    `db:"language_name"`
	LanguageSignupBegin        time.Time `db:"language_signup_begin"`
	LanguageSignupRndWindowEnd time.Time `db:"language_signup_rnd_window_end"`
	LanguageSignupManualEnd    time.Time `db:"language_signup_manual_end"`
	LanguageSignupEnd          time.Time `db:"language_signup_end"`
	LanguageSignupAutoEnd      time.Time `db:"language_signup_auto_end"`
}

func (f languageFields) toModel(id string) *models.Language {
	return &models.Language{
		ID:                 id,
		Name:               f.LanguageName,
		SignupBegin:        f.LanguageSignupBegin,
		SignupRndWindowEnd: f.LanguageSignupRndWindowEnd,
		SignupManualEnd:    f.LanguageSignupManualEnd,
		SignupEnd:          f.LanguageSignupEnd,
		SignupAutoEnd:      f.LanguageSignupAutoEnd,
	}
}

const languageSelect = `l.name AS language_name, l.signup_begin AS language_signup_begin,
       l.signup_rnd_window_end AS language_signup_rnd_window_end, l.signup_manual_end AS language_signup_manual_end,
       l.signup_end AS language_signup_end, l.signup_auto_end AS language_signup_auto_end`

const courseCountsSelect = `(SELECT COUNT(*) FROM attendances x WHERE x.course_id = c.id AND NOT x.waiting) AS active_count,
       (SELECT COUNT(*) FROM attendances x WHERE x.course_id = c.id) AS attendance_count`

type courseRow struct {
	models.Course
	languageFields
}

func (r courseRow) toModel() *models.Course {
	course := r.Course
	course.Language = r.languageFields.toModel(course.LanguageID)
	return &course
}

func exec(db *sqlx.DB, ext sqlx.ExtContext) sqlx.ExtContext {
	if ext != nil {
		return ext
	}
	return db
}

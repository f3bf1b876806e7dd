package ingest

import "errors"

var (
	ErrMissingPath = errors.New("missing page path")

	ErrMissingSessionID = errors.New("missing session id")

	ErrMissingArticleID = errors.New("missing article id")
)

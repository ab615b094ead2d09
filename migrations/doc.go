// Package migrations holds the application's migration units. Each unit
// lives in its own file named after its id and registers itself at init
// time; importing this package for side effects makes the full set
// discoverable by the runner.
//
// Ids are three-digit zero-padded sequence numbers followed by a snake_case
// description (001_add_user_timezone). The sequence must be gapless and
// start at 001; the validator enforces this before any run.
package migrations

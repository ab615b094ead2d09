/*
Package migration implements a versioned, auditable migration engine for the
application's MongoDB database.

# Overview

Migrations are ordered, idempotent-by-design transformations registered at
compile time and identified by a three-digit sequence prefix
(001_add_user_timezone). The engine validates the registered set for
structural correctness, runs pre-flight safety checks, applies pending
migrations strictly in order, and records every execution in a tracking
collection inside the target database itself.

# Core types

  - Migration: the contract every migration unit satisfies (id, metadata,
    Up, Down, optional Validate via the Validatable interface).
  - Operations: reusable document-mutation primitives migrations call
    (field add/remove/rename/transform, index management, seeding,
    collection lifecycle, transactional batches).
  - Tracker: persistence of execution history as Record documents.
  - Validator: static checks on migration metadata and sequence numbering.
  - SafetyChecker / LockGuard / BackupManager: pre-flight environment
    checks, run mutual exclusion, and dump/restore orchestration.
  - Runner: orchestrates discovery, validation, safety, sequencing and
    execution; the only component with control flow across migrations.
  - CLI: terminal-facing wrapper over the Runner with formatted output.

Execution is strictly sequential. Rollback always targets the single most
recently applied migration; there is no cascading multi-step rollback.
*/
package migration

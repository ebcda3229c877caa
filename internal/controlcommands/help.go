package controlcommands

const helpText = `agentman gateway control commands

Usage:
  agentman destroy [--yes] [--keep-workspace] [--dry-run] [--force]
  agentman list
  agentman stop
  agentman pause
  agentman stats [--current] [--watch]

Notes:
  - Without --yes, destroy refuses to delete your persistent workspace directory.
  - --keep-workspace stops/removes container(s) but keeps your files on disk.
  - --dry-run prints what would be deleted.
  - stop/pause act on the current project's container only.
  - stats --current limits output to the current project; --watch streams
    updates every second and omits disk usage.
`

const destroyConfirmationRequiredText = `Refusing to destroy without confirmation.
This will stop/remove your container(s) and DELETE your persistent workspace.

Run one of:
  agentman destroy --yes
  agentman destroy --keep-workspace
  agentman destroy --dry-run
`

package state

// snapshotSchema describes the persisted metrics file.
const snapshotSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["success", "lastBackupEpoch", "elapsedSeconds", "errorCount", "files", "size", "preBackupCheck", "postBackupCheck"],
  "properties": {
    "success": {"type": "boolean"},
    "lastBackupEpoch": {"type": "integer"},
    "elapsedSeconds": {"type": "integer"},
    "errorCount": {"type": "integer"},
    "files": {
      "type": "object",
      "properties": {
        "new": {"type": "integer"},
        "deleted": {"type": "integer"},
        "changed": {"type": "integer"},
        "deltaEntries": {"type": "integer"}
      }
    },
    "size": {
      "type": "object",
      "properties": {
        "rawDelta": {"type": "integer"},
        "changedFiles": {"type": "integer"},
        "sourceFile": {"type": "integer"},
        "totalDestinationChange": {"type": "integer"}
      }
    },
    "preBackupCheck": {"$ref": "#/definitions/check"},
    "postBackupCheck": {"$ref": "#/definitions/check"}
  },
  "definitions": {
    "check": {
      "type": "object",
      "required": ["succeeded", "epoch"],
      "properties": {
        "succeeded": {"type": "boolean"},
        "epoch": {"type": "integer"}
      }
    }
  }
}`

package advisory

import "github.com/santhosh-tekuri/jsonschema/v5"

const improveSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["success", "improvement"],
  "properties": {
    "success": {"const": true},
    "improvement": {
      "type": "object",
      "required": ["improvedTitle", "improvedDescription"],
      "properties": {
        "improvedTitle": {"type": "string", "minLength": 1, "maxLength": 100},
        "improvedDescription": {"type": "string", "minLength": 1},
        "suggestedSkills": {"type": "array", "items": {"type": "string"}},
        "suggestedBudgetRange": {"type": "string"},
        "improvements": {"type": "array", "items": {"type": "string"}},
        "missingInfo": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

const summarySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["success", "summary"],
  "properties": {
    "success": {"const": true},
    "summary": {
      "type": "object",
      "required": ["overview", "keyDetails"],
      "properties": {
        "overview": {"type": "string", "minLength": 1},
        "keyDetails": {
          "type": "object",
          "properties": {
            "totalAmount": {"type": "string"},
            "numberOfMilestones": {"type": "integer", "minimum": 0},
            "currentStatus": {"type": "string"},
            "completionPercentage": {"type": "number", "minimum": 0, "maximum": 100}
          }
        },
        "milestones": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["index", "title"],
            "properties": {
              "index": {"type": "integer", "minimum": 0},
              "title": {"type": "string"},
              "amount": {"type": "string"},
              "deadline": {"type": "string"},
              "status": {"type": "string"},
              "daysUntilDeadline": {"type": "integer"}
            }
          }
        },
        "riskAssessment": {"type": "string"},
        "nextSteps": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

const matchSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["success", "matches"],
  "properties": {
    "success": {"const": true},
    "matches": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["jobId", "fitScore"],
        "properties": {
          "jobId": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "fitScore": {"type": "number", "minimum": 0, "maximum": 100},
          "reason": {"type": "string"},
          "matchedSkills": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var (
	improveResponse = jsonschema.MustCompileString("improve.schema.json", improveSchema)
	summaryResponse = jsonschema.MustCompileString("summary.schema.json", summarySchema)
	matchResponse   = jsonschema.MustCompileString("match.schema.json", matchSchema)
)

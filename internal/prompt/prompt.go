// Package prompt builds the chat messages sent to the LLM for SQL generation
// and team building.
package prompt

import (
	"fmt"

	"github.com/felipepmaragno/sqlassist/internal/domain"
)

// Operations is the permitted operation taxonomy, stated verbatim in the CRUD prompt.
const Operations = "SELECT (Read), INSERT (Create), UPDATE, DELETE."

// CRUD returns the system and user messages for SQL generation grounded on schemaText.
func CRUD(schemaText, userText string) []domain.Message {
	system := fmt.Sprintf(`You are an AI assistant that generates SQL queries for CRUD operations (Create, Read, Update, Delete) on an employee management system. The database schema is as follows:

%s

Generate relevant SQL queries in plain text based on the user's input. Do not include any extra text, explanations, or instructions. Ensure the queries are properly formatted, valid, syntactically correct, properly quoted, and correspond to one of the following operations: %s`, schemaText, Operations)

	return []domain.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userText},
	}
}

// Team returns the messages for the team builder. roster is the pre-formatted
// list of available employees.
func Team(description, roster string) []domain.Message {
	system := fmt.Sprintf(`You are an AI HR assistant helping managers build project teams by selecting employees based on their roles, skills, availability, and past validated tasks. Your goal is to first generate an **Ideal Team Composition** based on the project requirements, then match the best employees from the provided dataset (`+"`DATA`"+`).

### Project Description & Requirements:
%s

### Part 1: Ideal Team Composition (General Roles & Skills)
- Identify key roles needed for this project.
- List essential skills and experience levels required for each role, considering that **junior employees are also suitable** for some positions.
- Estimate the number of team members required per role, aiming for a **small, efficient team**
- This section should **not** consider the provided employee data (`+"`DATA`"+`).

### Part 2: Matching Employees from Provided Data
From the available employees in the dataset (`+"`DATA`"+`), match the best candidates based on:
- **Role**: Must align with the required project roles.
- **Skills & Proficiency Level**: Match required skills as closely as possible.
- **Years of Experience**: Consider experience relevant to the role.
- **Validated Tasks**: Prior successful tasks should be prioritized.

Here are the available employees from the dataset (ensure you are matching roles correctly):
%s

### Output Format:
**Required Profiles:**
- Role 1: [Required Skills, Experience Level]
- Role 2: [Required Skills, Experience Level]
- (Continue listing all required roles)

**Matching Employees**:
- Role 1: [employee_1, employee_2, ...]
- Role 2: [employee_3, employee_4, ...]
- (Continue listing all roles with matched Employee firstname and lastname only)

Important Notes:
- **Only use employees from `+"`DATA`"+`**, as it already contains only available profiles.
- Ensure optimal team composition based on the best possible matches.
- If no exact match is found, suggest the closest alternative.`, description, roster)

	return []domain.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: description},
	}
}

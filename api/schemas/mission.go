package schemas

// -- Mission Schemas --

// TestScope gates which verification legs run for a mission. Pointers
// distinguish "absent" from "explicitly false": an absent flag defaults to
// true, so a mission with no test_scope runs all three legs.
type TestScope struct {
	TestDB    *bool  `json:"test_db,omitempty" yaml:"test_db,omitempty"`
	TestAPI   *bool  `json:"test_api,omitempty" yaml:"test_api,omitempty"`
	TestUI    *bool  `json:"test_ui,omitempty" yaml:"test_ui,omitempty"`
	Reasoning string `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
}

func scopeEnabled(b *bool) bool { return b == nil || *b }

// DBEnabled reports whether the database leg is in scope.
func (s TestScope) DBEnabled() bool { return scopeEnabled(s.TestDB) }

// APIEnabled reports whether the API leg is in scope.
func (s TestScope) APIEnabled() bool { return scopeEnabled(s.TestAPI) }

// UIEnabled reports whether the UI leg is in scope.
func (s TestScope) UIEnabled() bool { return scopeEnabled(s.TestUI) }

// VerificationPoints declares what the triple-check verifier confirms
// after the actions run.
type VerificationPoints struct {
	// APIEndpoint is "METHOD /path" (e.g. "POST /items"). A bare path
	// matches any method.
	APIEndpoint string `json:"api_endpoint,omitempty" yaml:"api_endpoint,omitempty"`
	// DBTable is the table queried by the database leg, optionally
	// schema-qualified ("order_management.products").
	DBTable string `json:"db_table,omitempty" yaml:"db_table,omitempty"`
	// ExpectedValues maps field names to the values all three legs check
	// for. Numeric values compare with a small tolerance.
	ExpectedValues map[string]interface{} `json:"expected_values,omitempty" yaml:"expected_values,omitempty"`
	// HiddenAPIFields must be absent from every captured API response
	// body. A present field is a security violation, not a plain
	// mismatch.
	HiddenAPIFields []string `json:"hidden_api_fields,omitempty" yaml:"hidden_api_fields,omitempty"`
	// FilterParam, when set, must appear in the matched request's query
	// string (e.g. "category" for a filtered listing).
	FilterParam string `json:"filter_param,omitempty" yaml:"filter_param,omitempty"`
	// UIText overrides the text the UI leg looks for; empty means the
	// leg checks the expected values' string forms.
	UIText string `json:"ui_text,omitempty" yaml:"ui_text,omitempty"`
}

// Persona identifies whose credentials a mission runs under. Hidden
// field expectations are usually persona-specific (an admin may see a
// field a viewer must not).
type Persona struct {
	Name     string `json:"name" yaml:"name"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// Password may be an env(NAME) indirection; it is resolved only at
	// execution time.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Mission is the declarative unit of work handed to the engine by the
// external planner. Read-only to the engine.
//
// Exactly one of Actions or Instructions drives the run: a mission with
// prebuilt actions executes on the fast path, a mission with only
// instructions is compiled into a plan against the live entry page first.
type Mission struct {
	TicketID   string `json:"ticket_id" yaml:"ticket_id"`
	TargetNode string `json:"target_node,omitempty" yaml:"target_node,omitempty"`
	// EntryURL is where the session starts; required when Actions is
	// empty (the compiler needs a page to observe).
	EntryURL string       `json:"entry_url,omitempty" yaml:"entry_url,omitempty"`
	Actions  []ActionStep `json:"actions,omitempty" yaml:"actions,omitempty"`
	// Goal and Instructions feed the plan compiler when no prebuilt
	// actions are present.
	Goal         string             `json:"goal,omitempty" yaml:"goal,omitempty"`
	Instructions string             `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Verification VerificationPoints `json:"verification_points" yaml:"verification_points"`
	Scope        TestScope          `json:"test_scope,omitempty" yaml:"test_scope,omitempty"`
	Persona      *Persona           `json:"persona,omitempty" yaml:"persona,omitempty"`
}

// HasActions reports whether the mission ships a prebuilt action list.
func (m *Mission) HasActions() bool { return len(m.Actions) > 0 }

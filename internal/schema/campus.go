package schema

func key() *Field {
	return &Field{Name: "id", Type: TypeInt}
}

func col(name string, t FieldType) *Field {
	return &Field{Name: name, Type: t, Mutable: true}
}

func required(f *Field) *Field {
	f.Required = true
	return f
}

func unique(f *Field) *Field {
	f.Unique = true
	f.Required = true
	return f
}

func sensitive(f *Field) *Field {
	f.Sensitive = true
	return f
}

func ref(name, entity string) *Field {
	return &Field{Name: name, Type: TypeInt, Mutable: true, Required: true, References: entity}
}

// Default returns the campus registry. It panics only if the static
// description is inconsistent.
func Default() *Registry {
	r, err := New(
		&Entity{
			Name:       "department",
			Table:      "departments",
			Module:     "academics",
			Aliases:    []string{"dept", "depts"},
			ScopeField: "id",
			Fields: []*Field{
				key(),
				unique(col("name", TypeString)),
				unique(col("code", TypeString)),
			},
		},
		&Entity{
			Name:       "faculty",
			Table:      "faculty",
			Module:     "academics",
			Aliases:    []string{"teacher", "teachers", "professor", "professors", "faculties"},
			ScopeField: "department_id",
			Fields: []*Field{
				key(),
				unique(col("employee_id", TypeString)),
				col("designation", TypeString),
				ref("department_id", "department"),
			},
		},
		&Entity{
			Name:       "student",
			Table:      "students",
			Module:     "academics",
			Aliases:    []string{"pupil", "pupils"},
			ScopeField: "department_id",
			Fields: []*Field{
				key(),
				unique(col("roll_number", TypeString)),
				ref("department_id", "department"),
				required(col("semester", TypeInt)),
				col("section", TypeString),
				sensitive(col("cgpa", TypeFloat)),
				col("admission_year", TypeInt),
				col("at_risk", TypeBool),
			},
		},
		&Entity{
			Name:       "course",
			Table:      "courses",
			Module:     "academics",
			Aliases:    []string{"subject", "subjects"},
			ScopeField: "department_id",
			Fields: []*Field{
				key(),
				unique(col("code", TypeString)),
				required(col("name", TypeString)),
				ref("department_id", "department"),
				required(col("semester", TypeInt)),
				col("credits", TypeInt),
				{Name: "instructor_id", Type: TypeInt, Mutable: true, References: "faculty"},
			},
		},
		&Entity{
			Name:       "attendance",
			Table:      "attendance",
			Module:     "attendance",
			Aliases:    []string{"attendances", "attendance record", "attendance records"},
			ScopeField: "department_id",
			Fields: []*Field{
				key(),
				ref("student_id", "student"),
				ref("course_id", "course"),
				ref("department_id", "department"),
				required(col("date", TypeDate)),
				col("is_present", TypeBool),
				col("method", TypeString),
			},
		},
		&Entity{
			Name:       "prediction",
			Table:      "predictions",
			Module:     "predictions",
			Aliases:    []string{"grade prediction", "grade predictions"},
			ScopeField: "department_id",
			Fields: []*Field{
				key(),
				ref("student_id", "student"),
				{Name: "course_id", Type: TypeInt, Mutable: true, References: "course"},
				ref("department_id", "department"),
				col("predicted_grade", TypeString),
				col("risk_score", TypeFloat),
				col("confidence", TypeFloat),
			},
		},
		&Entity{
			Name:    "student_fee",
			Table:   "student_fees",
			Module:  "finance",
			Aliases: []string{"fee", "fees", "student fee", "student fees"},
			Fields: []*Field{
				key(),
				ref("student_id", "student"),
				required(col("fee_type", TypeString)),
				required(sensitive(col("amount", TypeFloat))),
				required(col("due_date", TypeDate)),
				required(col("semester", TypeInt)),
				required(col("academic_year", TypeString)),
				col("is_paid", TypeBool),
				col("paid_date", TypeDate),
			},
		},
		&Entity{
			Name:   "invoice",
			Table:  "invoices",
			Module: "finance",
			Fields: []*Field{
				key(),
				ref("student_id", "student"),
				unique(col("invoice_number", TypeString)),
				required(sensitive(col("amount_due", TypeFloat))),
				required(col("issued_date", TypeDate)),
				required(col("due_date", TypeDate)),
				col("status", TypeString),
				col("description", TypeString),
			},
		},
		&Entity{
			Name:      "payment",
			Table:     "payments",
			Module:    "finance",
			Sensitive: true,
			Fields: []*Field{
				key(),
				ref("invoice_id", "invoice"),
				ref("student_id", "student"),
				required(col("amount", TypeFloat)),
				required(col("payment_date", TypeDate)),
				required(col("payment_method", TypeString)),
				{Name: "reference_number", Type: TypeString, Mutable: true, Unique: true},
				col("status", TypeString),
				col("notes", TypeString),
			},
		},
		&Entity{
			Name:      "employee",
			Table:     "employees",
			Module:    "hr",
			Aliases:   []string{"staff"},
			Sensitive: true,
			Fields: []*Field{
				key(),
				required(col("employee_type", TypeString)),
				required(col("date_of_joining", TypeDate)),
				col("phone", TypeString),
				col("city", TypeString),
				sensitive(col("bank_account", TypeString)),
				col("bank_name", TypeString),
			},
		},
		&Entity{
			Name:      "salary_record",
			Table:     "salary_records",
			Module:    "hr",
			Aliases:   []string{"salary", "salaries", "payroll", "salary record", "salary records"},
			Sensitive: true,
			Fields: []*Field{
				key(),
				ref("employee_id", "employee"),
				required(col("month", TypeInt)),
				required(col("year", TypeInt)),
				required(sensitive(col("gross_salary", TypeFloat))),
				required(sensitive(col("deductions", TypeFloat))),
				required(sensitive(col("net_salary", TypeFloat))),
				col("payment_date", TypeDate),
				col("status", TypeString),
				col("notes", TypeString),
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return r
}

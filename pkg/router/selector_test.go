package router

import "testing"

func TestSelectBackend(t *testing.T) {
	tests := []struct {
		name       string
		difficulty int
		category   Category
		expertise  Expertise
		coding     bool
		want       Backend
		rule       int
	}{
		{"easy factual general", 10, Factual, General, false, Fast, 2},
		{"coding beats difficulty", 65, Technical, Expert, true, Frontier, 1},
		{"easy coding", 5, Factual, General, true, Frontier, 1},
		{"easy factual specialized", 10, Factual, Specialized, false, Economy, 3},
		{"analytical below 30", 25, Analytical, General, false, Economy, 3},
		{"expert below 30 skips economy", 25, Factual, Expert, false, Balanced, 5},
		{"creative below 30", 20, Creative, General, false, Balanced, 5},
		{"boundary 15 factual general", 15, Factual, General, false, Economy, 3},
		{"boundary 30 factual", 30, Factual, General, false, Balanced, 5},
		{"hard anything", 60, Analytical, General, false, Frontier, 4},
		{"boundary 59", 59, Creative, Expert, false, Frontier, 6},
		{"mid analytical specialized", 55, Analytical, Specialized, false, Balanced, 5},
		{"mid creative", 55, Creative, General, false, Frontier, 6},
		{"mid expert", 50, Technical, Expert, false, Frontier, 6},
		{"mid factual general", 55, Factual, General, false, Balanced, 7},
		{"mid technical specialized", 52, Technical, Specialized, false, Balanced, 7},
		{"below 50 expert", 45, Technical, Expert, false, Balanced, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := Explain(tt.difficulty, tt.category, tt.expertise, tt.coding)
			if got != tt.want {
				t.Errorf("Explain(%d, %v, %v, %v) backend = %v, want %v", tt.difficulty, tt.category, tt.expertise, tt.coding, got, tt.want)
			}
			if rule != tt.rule {
				t.Errorf("Explain(%d, %v, %v, %v) rule = %d, want %d", tt.difficulty, tt.category, tt.expertise, tt.coding, rule, tt.rule)
			}
			if sb := SelectBackend(tt.difficulty, tt.category, tt.expertise, tt.coding); sb != got {
				t.Errorf("SelectBackend disagrees with Explain: %v vs %v", sb, got)
			}
		})
	}
}

func TestSelectBackendIsTotal(t *testing.T) {
	categories := []Category{Factual, Analytical, Creative, Technical}
	expertise := []Expertise{General, Specialized, Expert}
	for d := 1; d <= 100; d++ {
		for _, c := range categories {
			for _, e := range expertise {
				for _, coding := range []bool{false, true} {
					b := SelectBackend(d, c, e, coding)
					if b < Fast || b > Frontier {
						t.Fatalf("SelectBackend(%d, %v, %v, %v) = %v", d, c, e, coding, b)
					}
					if coding && b != Frontier {
						t.Fatalf("coding question at difficulty %d routed to %v", d, b)
					}
					if d > 59 && b != Frontier {
						t.Fatalf("difficulty %d routed to %v", d, b)
					}
				}
			}
		}
	}
}

func TestBackendText(t *testing.T) {
	for _, b := range Backends {
		text, err := b.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var back Backend
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if back != b {
			t.Errorf("round trip %v -> %q -> %v", b, text, back)
		}
	}
	var c Category
	if err := c.UnmarshalText([]byte("POETIC")); err == nil {
		t.Error("expected error for unknown category")
	}
}

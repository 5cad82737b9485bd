package predicate

import "testing"

func TestScratchTableNameDistinguishesKinds(t *testing.T) {
	u := &Unary{Ident: "0"}
	j := &Join{Ident: "0"}

	if ScratchTableName(u) == ScratchTableName(j) {
		t.Fatalf("expected distinct scratch table names, got %q for both", ScratchTableName(u))
	}
}

func TestUnaryAccessors(t *testing.T) {
	u := &Unary{
		Table:           "cars",
		Alias:           "cars",
		Column:          "pic",
		ConditionText:   "a car",
		OriginalSQLText: "nlfilter(cars.pic, 'a car')",
		Ident:           "0",
	}
	var p Predicate = u
	if p.Condition() != "a car" {
		t.Errorf("Condition() = %q", p.Condition())
	}
	if p.OriginalSQL() != "nlfilter(cars.pic, 'a car')" {
		t.Errorf("OriginalSQL() = %q", p.OriginalSQL())
	}
	if p.ID() != "0" {
		t.Errorf("ID() = %q", p.ID())
	}
}

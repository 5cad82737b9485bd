package counters

import "testing"

func TestAddIsAdditive(t *testing.T) {
	a := Counters{LLMCalls: 2, InputTokens: 10, OutputTokens: 2, ExecutionSeconds: 1.5}
	b := Counters{LLMCalls: 3, InputTokens: 20, OutputTokens: 3, ExecutionSeconds: 0.5}

	got := a.Add(b)
	want := Counters{LLMCalls: 5, InputTokens: 30, OutputTokens: 5, ExecutionSeconds: 2.0}
	if got != want {
		t.Errorf("Add() = %+v, want %+v", got, want)
	}
}

func TestSumMatchesManualAdd(t *testing.T) {
	all := []Counters{
		{LLMCalls: 1, InputTokens: 1, OutputTokens: 1, ExecutionSeconds: 1},
		{LLMCalls: 2, InputTokens: 2, OutputTokens: 2, ExecutionSeconds: 2},
		{LLMCalls: 3, InputTokens: 3, OutputTokens: 3, ExecutionSeconds: 3},
	}
	got := Sum(all)
	want := Counters{LLMCalls: 6, InputTokens: 6, OutputTokens: 6, ExecutionSeconds: 6}
	if got != want {
		t.Errorf("Sum() = %+v, want %+v", got, want)
	}
}

func TestSumEmpty(t *testing.T) {
	if got := Sum(nil); got != (Counters{}) {
		t.Errorf("Sum(nil) = %+v, want zero value", got)
	}
}

// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package validator

import "testing"

func BenchmarkTargetsIPs(b *testing.B) {
	targets := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3/24"}
	vd := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vd.Targets(targets)
	}
}

func BenchmarkTargetsHostnames(b *testing.B) {
	targets := []string{"scanme.example.com", "internal.corp.example.com"}
	vd := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vd.Targets(targets)
	}
}

func BenchmarkTargetsInjectionAttempt(b *testing.B) {
	targets := []string{"10.0.0.1; rm -rf /", "$(whoami)", "host`id`"}
	vd := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vd.Targets(targets)
	}
}

func BenchmarkStructValidation(b *testing.B) {
	type req struct {
		Pool string `validate:"required,poolname"`
	}
	vd := New()
	r := req{Pool: "default"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vd.Struct(&r)
	}
}

func BenchmarkStructValidationConcurrent(b *testing.B) {
	type req struct {
		Pool string `validate:"required,poolname"`
	}
	vd := New()
	r := req{Pool: "default"}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			vd.Struct(&r)
		}
	})
}

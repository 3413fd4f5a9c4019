package session_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/syssam/datakit/session"
)

func BenchmarkDetectChanges(b *testing.B) {
	for _, n := range []int{10, 1000} {
		b.Run(fmt.Sprint(n), func(b *testing.B) {
			s := session.New(nil)
			customers := make([]*Customer, n)
			for i := range customers {
				customers[i] = &Customer{ID: int64(i + 1), Name: "Ada", Email: fmt.Sprintf("%d@example.com", i), Version: 1}
				if err := s.Attach(customers[i]); err != nil {
					b.Fatal(err)
				}
			}
			customers[n/2].Credit = 10
			b.ReportAllocs()
			for b.Loop() {
				s.DetectChanges()
			}
		})
	}
}

func BenchmarkSaveChanges(b *testing.B) {
	db := newDB(b)
	s := db.Session()
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		if err := s.Add(&Customer{Name: "Ada", Email: fmt.Sprintf("%d@example.com", i)}); err != nil {
			b.Fatal(err)
		}
		if _, err := s.SaveChanges(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

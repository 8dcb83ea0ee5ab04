package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"driveshare/internal/api"
	"driveshare/pkg/driveshareclient"
)

const layout = "2006-01-02"

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "DriveShare base URL")
		renters  = flag.Int("renters", 20, "number of concurrent renters")
		requests = flag.Int("requests", 5, "booking requests per renter")
		days     = flag.Int("days", 60, "length of the listing's free window")
		maxLen   = flag.Int("maxlen", 7, "longest booking in days")
		settle   = flag.Bool("settle", true, "pay for approved bookings")
		secret   = flag.String("jwt-secret", os.Getenv("DRIVESHARE_JWT_SECRET"), "sign bearer tokens with this secret instead of sending X-User-ID")
	)
	flag.Parse()

	ctx := context.Background()
	base := driveshareclient.New(*baseURL, &http.Client{Timeout: 10 * time.Second})
	run := uuid.NewString()[:8]

	owner, err := base.CreateUser(ctx, fmt.Sprintf("owner-%s@load.test", run), decimal.Zero)
	if err != nil {
		fatalf("create owner: %v", err)
	}
	// as returns a client acting for userID.
	as := func(userID string) *driveshareclient.Client {
		if *secret == "" {
			return base.AsUser(userID)
		}
		tok, err := api.IssueToken([]byte(*secret), userID, time.Hour)
		if err != nil {
			fatalf("issue token: %v", err)
		}
		return base.WithToken(tok)
	}
	asOwner := as(owner.ID)

	first := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 0, *days-1)
	listing, err := asOwner.CreateListing(ctx, driveshareclient.ListingInput{
		Model:        "LoadCar",
		Year:         2024,
		RentalPrice:  decimal.NewFromInt(80),
		Availability: []driveshareclient.Range{{StartDate: first.Format(layout), EndDate: last.Format(layout)}},
	})
	if err != nil {
		fatalf("create listing: %v", err)
	}

	var (
		created     int64
		unavailable int64
		approved    int64
		lost        int64
		settled     int64
		errCount    int64

		mu       sync.Mutex
		bookings []driveshareclient.Range
	)

	start := time.Now()
	wg := sync.WaitGroup{}
	for i := 0; i < *renters; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))

			u, err := base.CreateUser(ctx, fmt.Sprintf("renter-%d-%s@load.test", i, run), decimal.NewFromInt(1000))
			if err != nil {
				atomic.AddInt64(&errCount, 1)
				return
			}
			asRenter := as(u.ID)

			for j := 0; j < *requests; j++ {
				s := first.AddDate(0, 0, rng.Intn(*days))
				e := s.AddDate(0, 0, rng.Intn(*maxLen))
				if e.After(last) {
					e = last
				}
				r := driveshareclient.Range{StartDate: s.Format(layout), EndDate: e.Format(layout)}

				id, err := asRenter.RequestBooking(ctx, listing.ID, r)
				switch {
				case errors.Is(err, driveshareclient.ErrUnavailable):
					atomic.AddInt64(&unavailable, 1)
					continue
				case err != nil:
					atomic.AddInt64(&errCount, 1)
					continue
				}
				atomic.AddInt64(&created, 1)

				// Approvals race each other for overlapping ranges.
				err = asOwner.Approve(ctx, id)
				switch {
				case errors.Is(err, driveshareclient.ErrUnavailable):
					atomic.AddInt64(&lost, 1)
					_ = asOwner.Reject(ctx, id)
					continue
				case err != nil:
					atomic.AddInt64(&errCount, 1)
					continue
				}
				atomic.AddInt64(&approved, 1)
				mu.Lock()
				bookings = append(bookings, r)
				mu.Unlock()

				if *settle {
					if _, err := asRenter.SettleWithRetry(ctx, id, decimal.Zero, driveshareclient.RetryOptions{}); err != nil {
						atomic.AddInt64(&errCount, 1)
					} else {
						atomic.AddInt64(&settled, 1)
					}
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	windows, err := base.Calendar(ctx, listing.ID)
	if err != nil {
		fatalf("calendar: %v", err)
	}
	violations := checkCalendar(windows, bookings)

	// The server's view of confirmed bookings must match what the renters saw.
	incoming, err := asOwner.IncomingRequests(ctx, listing.ID)
	if err != nil {
		fatalf("incoming requests: %v", err)
	}
	var confirmed int64
	for _, b := range incoming {
		if b.Status == "Confirmed" {
			confirmed++
		}
	}
	if confirmed != approved && errCount == 0 {
		violations = append(violations, fmt.Sprintf("server has %d confirmed bookings, renters saw %d approvals", confirmed, approved))
	}

	fmt.Println("=== DriveShare Booking Contention Test ===")
	fmt.Printf("duration: %s, renters: %d, listing: %s\n", elapsed, *renters, listing.ID)
	fmt.Printf("requests_created:     %d\n", created)
	fmt.Printf("requests_unavailable: %d\n", unavailable)
	fmt.Printf("approved:             %d\n", approved)
	fmt.Printf("approve_lost_race:    %d\n", lost)
	fmt.Printf("settled:              %d\n", settled)
	fmt.Printf("free_windows:         %d\n", len(windows))
	fmt.Printf("errors:               %d\n", errCount)
	fmt.Printf("violations:           %d\n", len(violations))
	for _, v := range violations {
		fmt.Println("  " + v)
	}
	if len(violations) > 0 {
		os.Exit(1)
	}
}

type span struct{ start, end time.Time }

func parse(r driveshareclient.Range) span {
	s, _ := time.Parse(layout, r.StartDate)
	e, _ := time.Parse(layout, r.EndDate)
	return span{s, e}
}

// checkCalendar verifies that no two confirmed bookings overlap, that free
// windows neither overlap nor touch, and that no free window overlaps a
// confirmed booking.
func checkCalendar(windows, bookings []driveshareclient.Range) []string {
	var out []string

	bs := make([]span, 0, len(bookings))
	for _, b := range bookings {
		bs = append(bs, parse(b))
	}
	sort.Slice(bs, func(i, j int) bool { return bs[i].start.Before(bs[j].start) })
	for i := 1; i < len(bs); i++ {
		if !bs[i].start.After(bs[i-1].end) {
			out = append(out, fmt.Sprintf("double booking: %s overlaps %s", bs[i].start.Format(layout), bs[i-1].end.Format(layout)))
		}
	}

	ws := make([]span, 0, len(windows))
	for _, w := range windows {
		ws = append(ws, parse(w))
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].start.Before(ws[j].start) })
	for i := 1; i < len(ws); i++ {
		if !ws[i].start.After(ws[i-1].end.AddDate(0, 0, 1)) {
			out = append(out, fmt.Sprintf("windows touch: %s..%s and %s..%s",
				ws[i-1].start.Format(layout), ws[i-1].end.Format(layout),
				ws[i].start.Format(layout), ws[i].end.Format(layout)))
		}
	}

	for _, w := range ws {
		for _, b := range bs {
			if !(b.start.After(w.end) || b.end.Before(w.start)) {
				out = append(out, fmt.Sprintf("free window %s..%s overlaps booking %s..%s",
					w.start.Format(layout), w.end.Format(layout), b.start.Format(layout), b.end.Format(layout)))
			}
		}
	}
	return out
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

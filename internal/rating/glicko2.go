// Package rating recomputes Glicko-2 skill ratings for finished rated games.
// Each player is updated pairwise against the real opponent, deviation and
// volatility included, and carries the result into their next game.
package rating

import "math"

const (
	// scale converts between the public 1500-based scale and Glicko-2's
	// internal mu/phi space.
	scale = 173.7178

	baseRating        = 1500.0
	baseDeviation     = 350.0
	defaultVolatility = 0.06

	// tau constrains how fast volatility may move; epsilon stops the
	// volatility iteration.
	tau     = 0.5
	epsilon = 1e-6

	// A player stays provisional until their deviation settles below this.
	provisionalDeviation = 110.0
)

// glicko is one player's state in internal space.
type glicko struct {
	mu    float64
	phi   float64
	sigma float64
}

// toGlicko converts stored rating fields, substituting baseline values for
// the zero state of a user who has never played.
func toGlicko(rating int, deviation, volatility float64) glicko {
	r := float64(rating)
	if rating == 0 {
		r = baseRating
	}
	if deviation <= 0 {
		deviation = baseDeviation
	}
	if volatility <= 0 {
		volatility = defaultVolatility
	}
	return glicko{
		mu:    (r - baseRating) / scale,
		phi:   deviation / scale,
		sigma: volatility,
	}
}

func (g glicko) rating() int        { return int(math.Round(g.mu*scale + baseRating)) }
func (g glicko) deviation() float64 { return g.phi * scale }

// updateOne runs a single-match Glicko-2 step for player against opp with
// score in {0, 0.5, 1}, volatility iteration included.
func updateOne(player, opp glicko, score float64) glicko {
	gVal := gFactor(opp.phi)
	eVal := expected(player.mu, opp.mu, opp.phi)

	v := 1.0 / (gVal * gVal * eVal * (1 - eVal))
	delta := v * gVal * (score - eVal)

	a := math.Log(player.sigma * player.sigma)
	A := a
	var B float64
	if delta*delta > player.phi*player.phi+v {
		B = math.Log(delta*delta - player.phi*player.phi - v)
	} else {
		k := 1.0
		for volF(a-k*tau, player.phi, v, delta, a) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA := volF(A, player.phi, v, delta, a)
	fB := volF(B, player.phi, v, delta, a)
	for i := 0; i < 100 && math.Abs(B-A) > epsilon; i++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := volF(C, player.phi, v, delta, a)
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}

	newSigma := math.Exp(A / 2)
	phiStar := math.Sqrt(player.phi*player.phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := player.mu + phiPrime*phiPrime*gVal*(score-eVal)

	return glicko{mu: muPrime, phi: phiPrime, sigma: newSigma}
}

func gFactor(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/(math.Pi*math.Pi))
}

func expected(mu, oppMu, oppPhi float64) float64 {
	return 1.0 / (1.0 + math.Exp(-gFactor(oppPhi)*(mu-oppMu)))
}

// volF is the volatility root function from the Glicko-2 paper.
func volF(x, phi, v, delta, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta*delta - phi*phi - v - ex)
	den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
	return num/den - (x-a)/(tau*tau)
}

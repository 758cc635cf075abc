package helper

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trip_booking/model"
)

func GenerateAccessToken(secret []byte, tokenClaim model.TokenClaim, ttl time.Duration) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["username"] = tokenClaim.Username
	claims["customerId"] = tokenClaim.CustomerId
	claims["exp"] = time.Now().Add(ttl).Unix()

	return token.SignedString(secret)
}

func ParseToken(secret []byte, tokenString string) (*jwt.Token, error) {
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
}

// ClaimFromToken extracts the customer claim; ok is false for guests.
func ClaimFromToken(token *jwt.Token) (model.TokenClaim, bool) {
	if token == nil {
		return model.TokenClaim{}, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.TokenClaim{}, false
	}
	id, ok := claims["customerId"].(float64)
	if !ok || id <= 0 {
		return model.TokenClaim{}, false
	}
	username, _ := claims["username"].(string)
	return model.TokenClaim{CustomerId: uint(id), Username: username}, true
}
